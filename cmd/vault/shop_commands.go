package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/urfave/cli/v2"

	"github.com/moxen-gg/vault/service/db"
)

func listShopItemsCommand() *cli.Command {
	return &cli.Command{
		Name:    "list",
		Usage:   "List active shop items",
		Aliases: []string{"ls"},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "type",
				Usage: "Only list items of this type (e.g. balance, cosmetic)",
			},
		},
		Action: func(c *cli.Context) error {
			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			items, err := store.ListShopItems(context.Background(), c.String("type"))
			if err != nil {
				return fmt.Errorf("failed to list shop items: %w", err)
			}

			if c.Bool("json") || c.String("filter") != "" {
				return outputJSON(c, items)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tTYPE\tPRICE (SOL)\tBALANCE")
			for _, item := range items {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\n",
					item.ID,
					item.Name,
					item.ItemType,
					item.PriceSOL,
					item.BalanceAmount,
				)
			}
			w.Flush()

			fmt.Fprintf(os.Stderr, "\nTotal: %d items\n", len(items))
			return nil
		},
	}
}

func seedShopItemsCommand() *cli.Command {
	return &cli.Command{
		Name:      "seed",
		Usage:     "Upsert shop items from a JSON file",
		ArgsUsage: "<items.json>",
		Description: `The file holds an array of catalog entries:

  [{"id": "starter-pack", "name": "Starter Pack", "description": "...",
    "item_type": "balance", "price_sol": "0.5", "balance_amount": 500,
    "active": true}]

An omitted item_type defaults to balance. Existing items with the same
id are updated in place.`,
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: path to items JSON file")
			}

			raw, err := os.ReadFile(c.Args().First())
			if err != nil {
				return fmt.Errorf("failed to read items file: %w", err)
			}

			var items []struct {
				ID            string `json:"id"`
				Name          string `json:"name"`
				Description   string `json:"description"`
				ItemType      string `json:"item_type"`
				PriceSOL      string `json:"price_sol"`
				BalanceAmount int64  `json:"balance_amount"`
				Active        bool   `json:"active"`
			}
			if err := json.Unmarshal(raw, &items); err != nil {
				return fmt.Errorf("failed to parse items file: %w", err)
			}

			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			for _, item := range items {
				upserted, err := store.UpsertShopItem(context.Background(), db.ShopItem{
					ID:            item.ID,
					Name:          item.Name,
					Description:   item.Description,
					ItemType:      item.ItemType,
					PriceSOL:      item.PriceSOL,
					BalanceAmount: item.BalanceAmount,
					Active:        item.Active,
				})
				if err != nil {
					return fmt.Errorf("failed to upsert item %q: %w", item.ID, err)
				}
				fmt.Printf("upserted %s (%s SOL -> %d balance)\n",
					upserted.ID, upserted.PriceSOL, upserted.BalanceAmount)
			}

			fmt.Fprintf(os.Stderr, "\nSeeded %d items\n", len(items))
			return nil
		},
	}
}
