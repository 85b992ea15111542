package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"docextract/internal/logger"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check that the configured provider and cache are reachable",
	Long: `Ping the configured extraction provider and, when CACHE_ADDR is set,
the cache. Exits non-zero when the provider is unreachable. A cache
failure is reported but does not fail the check, since extraction
continues without it.`,
	Args: cobra.NoArgs,
	RunE: runHealth,
}

func init() {
	rootCmd.AddCommand(healthCmd)

	healthCmd.Flags().Int("timeout", 30, "Timeout in seconds")
}

func runHealth(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("health")
	timeoutSecs, _ := cmd.Flags().GetInt("timeout")

	rt, err := newRuntime(log)
	if err != nil {
		return err
	}
	defer rt.Close()

	ctx, cancel := createContextWithTimeout(time.Duration(timeoutSecs)*time.Second, log)
	defer cancel()

	kind := rt.providers.Kind()
	healthy := rt.router.HealthCheck(ctx)
	snap := rt.providers.Breaker(kind).Snapshot()

	fmt.Printf("provider: %s (%s)\n", kind, status(healthy))
	fmt.Printf("breaker:  %s, %d consecutive failures\n", snap.State, snap.ConsecutiveFailures)

	if rt.redis != nil {
		pingCtx, pingCancel := context.WithTimeout(ctx, rt.cfg.CacheOpTimeout)
		err := rt.redis.Ping(pingCtx)
		pingCancel()
		if err != nil {
			fmt.Printf("cache:    %s (unreachable: %v)\n", rt.cfg.CacheAddr, err)
		} else {
			fmt.Printf("cache:    %s (ok)\n", rt.cfg.CacheAddr)
		}
	} else {
		fmt.Println("cache:    disabled")
	}

	if !healthy {
		return fmt.Errorf("provider %s is not reachable", kind)
	}
	return nil
}

func status(ok bool) string {
	if ok {
		return "ok"
	}
	return "unreachable"
}
