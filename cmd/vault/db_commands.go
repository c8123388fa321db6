package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/itchyny/gojq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/urfave/cli/v2"

	"github.com/moxen-gg/vault/service/db"
)

func listPendingCommand() *cli.Command {
	return &cli.Command{
		Name:    "list-pending",
		Usage:   "List pending transactions for a user",
		Aliases: []string{"ls"},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "user",
				Aliases:  []string{"u"},
				Usage:    "User id to list transactions for",
				Required: true,
			},
			&cli.StringFlag{
				Name:    "status",
				Aliases: []string{"s"},
				Usage:   "Filter by status (PENDING, CONFIRMED, FAILED, EXPIRED)",
			},
			&cli.IntFlag{
				Name:  "limit",
				Usage: "Maximum number of rows",
				Value: 50,
			},
		},
		Action: func(c *cli.Context) error {
			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			transactions, err := store.ListPendingTransactionsByUser(
				context.Background(),
				c.String("user"),
				c.String("status"),
				int32(c.Int("limit")),
			)
			if err != nil {
				return fmt.Errorf("failed to list pending transactions: %w", err)
			}

			if c.Bool("json") || c.String("filter") != "" {
				return outputJSON(c, transactions)
			}

			// Pretty table output
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tKIND\tSTATUS\tASSET\tAMOUNT\tEXPIRES")
			for _, txn := range transactions {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n",
					txn.ID.String(),
					txn.Kind,
					txn.Status,
					txn.Asset,
					txn.Amount,
					txn.ExpiresAt.Format(time.RFC3339),
				)
			}
			w.Flush()

			fmt.Fprintf(os.Stderr, "\nTotal: %d transactions\n", len(transactions))
			return nil
		},
	}
}

func getPendingCommand() *cli.Command {
	return &cli.Command{
		Name:      "get-pending",
		Usage:     "Get pending transaction details",
		Aliases:   []string{"get"},
		ArgsUsage: "<transaction-id>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: transaction id")
			}

			id, err := uuid.Parse(c.Args().First())
			if err != nil {
				return fmt.Errorf("invalid transaction id: %w", err)
			}

			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			txn, err := store.GetPendingTransaction(context.Background(), id)
			if err != nil {
				return fmt.Errorf("failed to get pending transaction: %w", err)
			}

			if c.Bool("json") || c.String("filter") != "" {
				return outputJSON(c, txn)
			}

			fmt.Printf("ID:          %s\n", txn.ID.String())
			fmt.Printf("User:        %s\n", txn.UserID)
			fmt.Printf("Kind:        %s\n", txn.Kind)
			fmt.Printf("Status:      %s\n", txn.Status)
			fmt.Printf("Asset:       %s\n", txn.Asset)
			fmt.Printf("Amount:      %d\n", txn.Amount)
			fmt.Printf("Source:      %s\n", txn.SourceAddress)
			fmt.Printf("Destination: %s\n", txn.DestinationAddress)
			if txn.SettlingSignature != nil {
				fmt.Printf("Signature:   %s\n", *txn.SettlingSignature)
			}
			if txn.FailureReason != nil {
				fmt.Printf("Failure:     %s\n", *txn.FailureReason)
			}
			fmt.Printf("Created:     %s\n", txn.CreatedAt.Format(time.RFC3339))
			fmt.Printf("Expires:     %s\n", txn.ExpiresAt.Format(time.RFC3339))

			return nil
		},
	}
}

func getUserCommand() *cli.Command {
	return &cli.Command{
		Name:      "get-user",
		Usage:     "Get user details by id, or by wallet with --wallet",
		ArgsUsage: "<user-id | wallet-address>",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "wallet",
				Usage: "Treat the argument as a wallet address",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: user id or wallet address")
			}

			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			var user *db.User
			if c.Bool("wallet") {
				user, err = store.GetUserByWallet(context.Background(), c.Args().First())
			} else {
				user, err = store.GetUser(context.Background(), c.Args().First())
			}
			if err != nil {
				return fmt.Errorf("failed to get user: %w", err)
			}

			if c.Bool("json") || c.String("filter") != "" {
				return outputJSON(c, user)
			}

			fmt.Printf("ID:      %s\n", user.ID)
			fmt.Printf("Wallet:  %s\n", user.WalletAddress)
			fmt.Printf("Balance: %d\n", user.Balance)
			fmt.Printf("Created: %s\n", user.CreatedAt.Format(time.RFC3339))

			return nil
		},
	}
}

// getStore creates a database store from the CLI flags.
func getStore(c *cli.Context) (*db.Store, func(), error) {
	dbURL := c.String("database-url")
	if dbURL == "" {
		dbURL = os.Getenv("DATABASE_URL")
	}
	if dbURL == "" {
		return nil, nil, fmt.Errorf("database-url is required (set DATABASE_URL env var or use --database-url)")
	}

	pool, err := pgxpool.New(context.Background(), dbURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := db.NewStore(pool)
	closer := func() { pool.Close() }

	return store, closer, nil
}

// outputJSON writes v as indented JSON, applying the --filter jq
// expression when one is set.
func outputJSON(c *cli.Context, v interface{}) error {
	filter := c.String("filter")
	if filter == "" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}

	query, err := gojq.Parse(filter)
	if err != nil {
		return fmt.Errorf("failed to parse jq filter %q: %w", filter, err)
	}
	code, err := gojq.Compile(query)
	if err != nil {
		return fmt.Errorf("failed to compile jq filter %q: %w", filter, err)
	}

	// Round-trip through JSON so gojq sees plain maps and slices.
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}
	var input interface{}
	if err := json.Unmarshal(raw, &input); err != nil {
		return fmt.Errorf("failed to decode output for filtering: %w", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	iter := code.Run(input)
	for {
		result, ok := iter.Next()
		if !ok {
			break
		}
		if err, isErr := result.(error); isErr {
			return fmt.Errorf("jq filter error: %w", err)
		}
		if err := enc.Encode(result); err != nil {
			return err
		}
	}
	return nil
}
