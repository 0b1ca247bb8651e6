package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"restaurant-system/internal/common/logger"
	"restaurant-system/internal/domain"
	"restaurant-system/internal/microservices/dashboard"
)

var (
	watchURL      string
	watchTenant   string
	watchStatus   string
	watchPageSize int
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow a tenant's orders the way a dashboard does",
	RunE:  runWatch,
}

func init() {
	f := watchCmd.Flags()
	f.StringVar(&watchURL, "url", "http://localhost:3000", "base URL of the order API")
	f.StringVar(&watchTenant, "tenant", "", "tenant (restaurant) id")
	f.StringVar(&watchStatus, "status", string(domain.StatusPlaced), "status tab to show")
	f.IntVar(&watchPageSize, "page-size", 10, "page size (10, 25, 50 or 75)")
	_ = watchCmd.MarkFlagRequired("tenant")
}

func runWatch(cmd *cobra.Command, _ []string) error {
	status, err := domain.ParseStatus(watchStatus)
	if err != nil {
		return err
	}
	log, err := logger.NewWithOptions("watch", logger.Options{Level: "warn"})
	if err != nil {
		return err
	}
	defer log.Sync()

	client, err := dashboard.NewClient(watchURL, watchTenant, log)
	if err != nil {
		return err
	}
	r, err := dashboard.NewReconciler(client, status, watchPageSize, log)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	client.OnEvent(func(ev domain.Event, applied bool) {
		if !applied {
			return
		}
		fmt.Fprintf(out, "%-13s %s %s\n", ev.Kind, ev.Order.ID, ev.Order.Status)
		printView(out, r)
	})

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return client.Watch(ctx, r)
}

func printView(w io.Writer, r *dashboard.Reconciler) {
	counts := r.Counts()
	badges := make([]string, 0, len(domain.AllStatuses))
	for _, s := range domain.AllStatuses {
		badges = append(badges, fmt.Sprintf("%s=%d", s, counts[s]))
	}
	v := r.Active()
	fmt.Fprintf(w, "  %s\n  %s page %d/%d (%d orders)\n", strings.Join(badges, " "), v.Status, v.Page, v.TotalPages, v.TotalCount)
	for _, o := range v.Orders {
		fmt.Fprintf(w, "    %s %-8s %s %s\n", o.ID, o.Type, o.TotalAmount.StringFixed(2), o.CustomerName)
	}
}
