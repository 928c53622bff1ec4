// civicadmin runs the offline administrative jobs that must never live on
// the request path: the retroactive duplicate-clustering sweep and the
// one-time legacy reporter migration.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"civicwatch-be/config"
	"civicwatch-be/models"
	"civicwatch-be/services"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	sinceHours   int
	radiusMeters float64
	category     string
)

func newEngine() *services.Engine {
	store := services.NewMongoIssueStore(config.GetCollection("issues"))
	// Offline sweeps reconcile history; spamming subscribers with a burst of
	// merge events would be noise, so events are discarded.
	return services.NewEngine(store, services.NopNotifier{}, config.LoadEngineConfig())
}

// signalContext returns a context cancelled on SIGINT/SIGTERM so a sweep can
// be interrupted between pairs, leaving already-applied merges intact.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

var rootCmd = &cobra.Command{
	Use:   "civicadmin",
	Short: "Administrative jobs for the civic issue backend",
}

var retroClusterCmd = &cobra.Command{
	Use:   "retrocluster",
	Short: "Merge duplicate issues that creation-time dedup missed",
	RunE: func(cmd *cobra.Command, args []string) error {
		var cat *models.IssueCategory
		if category != "" {
			if !models.ValidCategory(category) {
				return fmt.Errorf("invalid category %q", category)
			}
			c := models.IssueCategory(category)
			cat = &c
		}

		ctx, cancel := signalContext()
		defer cancel()

		merged, err := newEngine().RetroCluster(ctx, sinceHours, radiusMeters, cat)
		if err != nil {
			log.Printf("sweep stopped early after %d merged pairs: %v", merged, err)
			return nil
		}
		log.Printf("retrocluster complete: %d pairs merged", merged)
		return nil
	},
}

var migrateReportersCmd = &cobra.Command{
	Use:   "migrate-reporters",
	Short: "Convert legacy raw user-id reporter arrays into structured entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		store := services.NewMongoIssueStore(config.GetCollection("issues"))
		migrated, err := store.MigrateLegacyReporters(ctx)
		if err != nil {
			return fmt.Errorf("migration failed after %d issues: %w", migrated, err)
		}
		log.Printf("migrate-reporters complete: %d issues rewritten", migrated)
		return nil
	},
}

func init() {
	retroClusterCmd.Flags().IntVar(&sinceHours, "since-hours", 24, "look back this many hours for canonical issues")
	retroClusterCmd.Flags().Float64Var(&radiusMeters, "radius", 0, "cluster radius in meters (0 = engine default)")
	retroClusterCmd.Flags().StringVar(&category, "category", "", "restrict the sweep to one category")

	rootCmd.AddCommand(retroClusterCmd)
	rootCmd.AddCommand(migrateReportersCmd)
}

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
