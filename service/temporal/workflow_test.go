package temporal

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.temporal.io/sdk/testsuite"
)

func TestSweepPendingWorkflow(t *testing.T) {
	tests := []struct {
		name          string
		mockActivity  func(*testsuite.MockCallWrapper)
		expectedError bool
		expected      int64
	}{
		{
			name: "sweep expires stale records",
			mockActivity: func(expireMock *testsuite.MockCallWrapper) {
				expireMock.Return(&ExpirePendingResult{Expired: 5}, nil)
			},
			expectedError: false,
			expected:      5,
		},
		{
			name: "sweep with nothing stale",
			mockActivity: func(expireMock *testsuite.MockCallWrapper) {
				expireMock.Return(&ExpirePendingResult{Expired: 0}, nil)
			},
			expectedError: false,
			expected:      0,
		},
		{
			name: "activity failure propagates",
			mockActivity: func(expireMock *testsuite.MockCallWrapper) {
				expireMock.Return(nil, errors.New("database down"))
			},
			expectedError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			testSuite := &testsuite.WorkflowTestSuite{}
			env := testSuite.NewTestWorkflowEnvironment()

			activities := &Activities{}
			env.RegisterActivity(activities.ExpirePendingTransactions)

			expireMock := env.OnActivity(activities.ExpirePendingTransactions, mock.Anything, mock.Anything)
			tt.mockActivity(expireMock)

			env.ExecuteWorkflow(SweepPendingWorkflow, SweepPendingInput{})

			if tt.expectedError {
				assert.Error(t, env.GetWorkflowError())
				return
			}

			assert.NoError(t, env.GetWorkflowError())
			var result SweepPendingResult
			assert.NoError(t, env.GetWorkflowResult(&result))
			assert.Equal(t, tt.expected, result.Expired)
			assert.False(t, result.SweepTime.IsZero())
		})
	}
}
