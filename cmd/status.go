package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/Ghostmonday/formmonkeyplatform/internal/learn"
	"github.com/Ghostmonday/formmonkeyplatform/internal/model"
	"github.com/Ghostmonday/formmonkeyplatform/internal/store"
)

var statusServer string

// statusReport is the local snapshot printed by the status command. Live
// breaker and governor state only exists inside a running server; use
// --server to query its /status endpoint instead.
type statusReport struct {
	StoreDriver  string             `json:"store_driver"`
	FieldStats   []model.FieldStat  `json:"field_stats"`
	Corrections  map[string]int     `json:"corrections_by_status"`
	LearnBacklog *int64             `json:"learn_backlog,omitempty"`
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show engine health and correction statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if statusServer != "" {
			return fetchServerStatus(statusServer)
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		report := statusReport{
			StoreDriver: cfg.Store.Driver,
			Corrections: make(map[string]int),
		}

		report.FieldStats, err = st.ListFieldStats(ctx)
		if err != nil {
			return eris.Wrap(err, "list field stats")
		}

		for _, status := range []model.CorrectionStatus{
			model.CorrectionPending, model.CorrectionCommitted, model.CorrectionSuperseded,
			model.CorrectionRejected, model.CorrectionUnresolved,
		} {
			corrs, err := st.ListCorrections(ctx, store.CorrectionFilter{Status: status})
			if err != nil {
				return eris.Wrap(err, "list corrections")
			}
			report.Corrections[string(status)] = len(corrs)
		}

		if cfg.Learn.RedisAddr != "" {
			rdb := redis.NewClient(&redis.Options{Addr: cfg.Learn.RedisAddr})
			defer rdb.Close()
			if n, err := learn.NewRedisQueue(rdb, cfg.Learn.Namespace).Len(ctx); err == nil {
				report.LearnBacklog = &n
			}
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	},
}

// fetchServerStatus proxies a running server's /status endpoint to stdout.
func fetchServerStatus(base string) error {
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(base + "/status")
	if err != nil {
		return eris.Wrap(err, "query server status")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return eris.Errorf("server status returned %d", resp.StatusCode)
	}
	_, err = io.Copy(os.Stdout, resp.Body)
	fmt.Println()
	return err
}

func init() {
	statusCmd.Flags().StringVar(&statusServer, "server", "", "base URL of a running serve instance, e.g. http://localhost:8080")
	rootCmd.AddCommand(statusCmd)
}
