/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"revshare-ledger-go/internal/common"
	"revshare-ledger-go/internal/config"
	"revshare-ledger-go/internal/models"
	"revshare-ledger-go/internal/payout"
	"revshare-ledger-go/internal/store"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const usage = `Usage: payout <command> [flags]

Commands:
  request          --wallet ID --amount N     open a payout
  approve          --id PAYOUT                reserve the amount
  reject           --id PAYOUT --reason TEXT  reject, releasing any reservation
  process          --id PAYOUT                hand to the disbursement rail
  complete         --id PAYOUT                finalize
  list             --wallet ID                list a wallet's payouts
  approve-pending  --wallet ID --amount N --key KEY
                                              move held earnings into the balance
`

type command struct {
	flags  *flag.FlagSet
	wallet *string
	id     *string
	amount *string
	reason *string
	key    *string
}

func parseCommand(args []string) (string, *command, error) {
	if len(args) < 1 {
		return "", nil, fmt.Errorf("missing command")
	}

	name := args[0]
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	cmd := &command{
		flags:  fs,
		wallet: fs.String("wallet", "", "Wallet id"),
		id:     fs.String("id", "", "Payout id"),
		amount: fs.String("amount", "", "Amount as a decimal string"),
		reason: fs.String("reason", "", "Rejection reason"),
		key:    fs.String("key", "", "Idempotency key for approve-pending"),
	}
	if err := fs.Parse(args[1:]); err != nil {
		return "", nil, err
	}
	return name, cmd, nil
}

func (c *command) require(names ...string) error {
	values := map[string]string{
		"wallet": *c.wallet,
		"id":     *c.id,
		"amount": *c.amount,
		"reason": *c.reason,
		"key":    *c.key,
	}
	for _, name := range names {
		if values[name] == "" {
			return fmt.Errorf("--%s is required", name)
		}
	}
	return nil
}

func (c *command) parseAmount() (decimal.Decimal, error) {
	amount, err := decimal.NewFromString(*c.amount)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount format: %w", err)
	}
	if !amount.IsPositive() {
		return decimal.Zero, fmt.Errorf("amount must be greater than zero")
	}
	return amount, nil
}

func printPayout(p *models.Payout, places int32) {
	fmt.Printf("Payout %s\n", p.Id)
	fmt.Printf("%s wallet: %s\n", common.BoxPrefix(false), p.WalletId)
	fmt.Printf("%s amount: %s\n", common.BoxPrefix(false), common.FormatAmount(p.Amount, places))
	if p.Reason != "" {
		fmt.Printf("%s reason: %s\n", common.BoxPrefix(false), p.Reason)
	}
	fmt.Printf("%s state:  %s\n", common.BoxPrefix(true), p.State)
}

func run(ctx context.Context, name string, cmd *command, db store.LedgerStore, places int32) error {
	processor := payout.NewProcessor(db, nil)

	var (
		result *models.Payout
		err    error
	)
	switch name {
	case "request":
		if err := cmd.require("wallet", "amount"); err != nil {
			return err
		}
		amount, err := cmd.parseAmount()
		if err != nil {
			return err
		}
		result, err = processor.Request(ctx, *cmd.wallet, amount)
		if err != nil {
			return err
		}
	case "approve":
		if err := cmd.require("id"); err != nil {
			return err
		}
		result, err = processor.Approve(ctx, *cmd.id)
	case "reject":
		if err := cmd.require("id", "reason"); err != nil {
			return err
		}
		result, err = processor.Reject(ctx, *cmd.id, *cmd.reason)
	case "process":
		if err := cmd.require("id"); err != nil {
			return err
		}
		result, err = processor.StartProcessing(ctx, *cmd.id)
	case "complete":
		if err := cmd.require("id"); err != nil {
			return err
		}
		result, err = processor.Complete(ctx, *cmd.id)
	case "list":
		if err := cmd.require("wallet"); err != nil {
			return err
		}
		payouts, err := db.ListPayouts(ctx, *cmd.wallet)
		if err != nil {
			return err
		}
		common.PrintHeader("PAYOUTS FOR WALLET "+*cmd.wallet, common.DefaultWidth)
		for i, p := range payouts {
			fmt.Printf("%s %s %-10s %14s  %s\n",
				common.BoxPrefix(i == len(payouts)-1),
				p.Id, p.State, common.FormatAmount(p.Amount, places), p.CreatedAt.Format("2006-01-02 15:04:05"))
		}
		common.PrintFooter(fmt.Sprintf("%d payouts", len(payouts)), common.DefaultWidth)
		return nil
	case "approve-pending":
		if err := cmd.require("wallet", "amount", "key"); err != nil {
			return err
		}
		amount, err := cmd.parseAmount()
		if err != nil {
			return err
		}
		if err := processor.ApproveEarnings(ctx, *cmd.wallet, amount, *cmd.key); err != nil {
			return err
		}
		fmt.Printf("Approved %s of held earnings on wallet %s\n", common.FormatAmount(amount, places), *cmd.wallet)
		return nil
	default:
		return fmt.Errorf("unknown command %q", name)
	}

	if err != nil {
		return err
	}
	printPayout(result, places)
	return nil
}

func main() {
	ctx := context.Background()

	_, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	name, cmd, err := parseCommand(os.Args[1:])
	if err != nil {
		fmt.Fprint(os.Stderr, usage)
		zap.L().Fatal("Invalid arguments", zap.Error(err))
	}

	cfg, err := config.Load()
	if err != nil {
		zap.L().Fatal("Failed to load config", zap.Error(err))
	}

	dbService, err := common.InitializeDatabaseOnly(ctx, cfg)
	if err != nil {
		zap.L().Fatal("Failed to initialize database", zap.Error(err))
	}
	defer dbService.Close()

	if err := run(ctx, name, cmd, dbService, cfg.Split.Scale); err != nil {
		zap.L().Error("Payout command failed",
			zap.String("command", name),
			zap.Error(err))
		loggerCleanup()
		os.Exit(1)
	}
}
