package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/moxen-gg/vault/service/temporal"
)

func createSweepScheduleCommand() *cli.Command {
	return &cli.Command{
		Name:  "create-schedule",
		Usage: "Create the pending-transaction sweep schedule",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:  "interval",
				Usage: "Sweep interval",
				Value: time.Minute,
			},
		},
		Action: func(c *cli.Context) error {
			client, err := getTemporalClient(c)
			if err != nil {
				return err
			}
			defer client.Close()

			interval := c.Duration("interval")
			if err := client.CreateSweepSchedule(context.Background(), interval); err != nil {
				return err
			}

			fmt.Printf("created sweep schedule (every %v)\n", interval)
			return nil
		},
	}
}

func pauseSweepScheduleCommand() *cli.Command {
	return &cli.Command{
		Name:  "pause-schedule",
		Usage: "Pause the sweep schedule",
		Action: func(c *cli.Context) error {
			client, err := getTemporalClient(c)
			if err != nil {
				return err
			}
			defer client.Close()

			if err := client.PauseSweepSchedule(context.Background()); err != nil {
				return err
			}

			fmt.Println("paused sweep schedule")
			return nil
		},
	}
}

func resumeSweepScheduleCommand() *cli.Command {
	return &cli.Command{
		Name:  "resume-schedule",
		Usage: "Resume a paused sweep schedule",
		Action: func(c *cli.Context) error {
			client, err := getTemporalClient(c)
			if err != nil {
				return err
			}
			defer client.Close()

			if err := client.ResumeSweepSchedule(context.Background()); err != nil {
				return err
			}

			fmt.Println("resumed sweep schedule")
			return nil
		},
	}
}

func deleteSweepScheduleCommand() *cli.Command {
	return &cli.Command{
		Name:  "delete-schedule",
		Usage: "Delete the sweep schedule",
		Action: func(c *cli.Context) error {
			client, err := getTemporalClient(c)
			if err != nil {
				return err
			}
			defer client.Close()

			if err := client.DeleteSweepSchedule(context.Background()); err != nil {
				return err
			}

			fmt.Println("deleted sweep schedule")
			return nil
		},
	}
}

// getTemporalClient creates a Temporal client from the CLI flags.
func getTemporalClient(c *cli.Context) (*temporal.Client, error) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	return temporal.NewClient(
		c.String("temporal-host"),
		c.String("temporal-namespace"),
		c.String("temporal-task-queue"),
		logger,
	)
}
