package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"scalper/internal/exchange"
	"scalper/pkg/utils"
)

const checkTimeout = 30 * time.Second

// runCheck подключается к биржам и печатает баланс, параметры и котировки пар
func runCheck(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	defer log.Sync()

	exchanges, err := buildExchanges(cfg, log)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), checkTimeout)
	defer cancel()

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer w.Flush()

	failed := 0
	for _, c := range cfg.Exchanges {
		ex := exchanges[c.Name]
		if err := ex.Connect(c.APIKey, c.SecretKey, c.Passphrase); err != nil {
			fmt.Fprintf(w, "%s\tconnect failed: %v\n", c.Name, err)
			failed++
			continue
		}

		balance, err := ex.GetBalance(ctx)
		if err != nil {
			fmt.Fprintf(w, "%s\tbalance error: %v\n", c.Name, err)
		} else {
			fmt.Fprintf(w, "%s\tbalance %.2f USDT\n", c.Name, balance)
		}

		fmt.Fprintln(w, "SYMBOL\tBID\tASK\tSPREAD\tTICK\tSTEP\tMIN QTY\tMIN NOTIONAL\tSTATUS")
		for _, symbol := range c.Pairs {
			printPair(ctx, w, ex, symbol)
		}
		fmt.Fprintln(w)

		if err := ex.Close(); err != nil {
			log.Warn("close exchange", utils.Exchange(c.Name), utils.Err(err))
		}
	}

	if failed == len(cfg.Exchanges) {
		return fmt.Errorf("no exchanges connected")
	}
	return nil
}

func printPair(ctx context.Context, w *tabwriter.Writer, ex exchange.Exchange, symbol string) {
	md, err := ex.GetMarketData(ctx, symbol)
	if err != nil {
		fmt.Fprintf(w, "%s\tmarket data error: %v\n", symbol, err)
		return
	}
	limits, err := ex.GetLimits(ctx, symbol)
	if err != nil {
		fmt.Fprintf(w, "%s\t%g\t%g\t%.4f%%\tlimits error: %v\n", symbol, md.Bid, md.Ask, md.Spread()*100, err)
		return
	}
	fmt.Fprintf(w, "%s\t%g\t%g\t%.4f%%\t%g\t%g\t%g\t%g\t%s\n",
		symbol, md.Bid, md.Ask, md.Spread()*100,
		limits.PriceStep, limits.QtyStep, limits.MinOrderQty, limits.MinNotional, limits.Status)
}
