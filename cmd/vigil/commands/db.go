package commands

import (
	"database/sql"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/teranos/vigil/config"
	"github.com/teranos/vigil/errors"
	"github.com/teranos/vigil/sym"
)

// DbCmd represents the db (database) command
var DbCmd = &cobra.Command{
	Use:   "db",
	Short: sym.DB + " Manage the vigil database",
	Long: sym.DB + ` db — Manage vigil database operations

Manage database operations including schema migrations, job history
statistics, and persisted tracker state diagnostics.

Examples:
  vigil db migrate                # Apply pending schema migrations
  vigil db stats                  # Show history and state statistics
  vigil db stats --limit 10       # Show last 10 archived jobs`,
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations",
	Long:  "Open the database and apply any schema migrations it is missing. Safe to run repeatedly; already-applied migrations are skipped.",
	RunE:  runDbMigrate,
}

var dbStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show database statistics",
	Long:  "Display job history counts, recent archived jobs, persisted tracker state, and storage size",
	RunE:  runDbStats,
}

var (
	statsLimitFlag int
)

func init() {
	DbCmd.AddCommand(dbMigrateCmd)
	DbCmd.AddCommand(dbStatsCmd)
	dbStatsCmd.Flags().IntVar(&statsLimitFlag, "limit", 20, "Number of recent archived jobs to show")
}

func runDbMigrate(cmd *cobra.Command, args []string) error {
	// openDatabase migrates as part of opening
	database, err := openDatabase("")
	if err != nil {
		return errors.Wrap(err, "failed to open database")
	}
	defer database.Close()

	var version sql.NullInt64
	if err := database.QueryRow(`SELECT MAX(version) FROM schema_migrations`).Scan(&version); err != nil {
		return errors.Wrap(err, "failed to read schema version")
	}

	fmt.Printf("%s Database schema up to date (version %d)\n", sym.DB, version.Int64)
	return nil
}

func runDbStats(cmd *cobra.Command, args []string) error {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Open and migrate database
	database, err := openDatabase("")
	if err != nil {
		return errors.Wrap(err, "failed to open database")
	}
	defer database.Close()

	// Get job history statistics
	var totalJobs, completedJobs, erroredJobs, forcedJobs int
	err = database.QueryRow(`
		SELECT
			COUNT(*) as total_jobs,
			COALESCE(SUM(CASE WHEN status = 'completed' THEN 1 ELSE 0 END), 0) as completed_jobs,
			COALESCE(SUM(CASE WHEN status = 'error' THEN 1 ELSE 0 END), 0) as errored_jobs,
			COALESCE(SUM(CASE WHEN forced = 1 THEN 1 ELSE 0 END), 0) as forced_jobs
		FROM job_history
	`).Scan(&totalJobs, &completedJobs, &erroredJobs, &forcedJobs)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("failed to query history stats: %w", err)
	}

	// Storage size
	var pageCount, pageSize int64
	database.QueryRow(`PRAGMA page_count`).Scan(&pageCount)
	database.QueryRow(`PRAGMA page_size`).Scan(&pageSize)

	// Print database info
	fmt.Printf("%s Database Statistics\n", sym.DB)
	fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")
	fmt.Printf("Database Path:   %s\n", cfg.GetDatabasePath())
	fmt.Printf("Storage Size:    %d KB\n", pageCount*pageSize/1024)
	fmt.Printf("Archived Jobs:   %d\n", totalJobs)
	fmt.Printf("  Completed:     %d (%d force-completed)\n", completedJobs, forcedJobs)
	fmt.Printf("  Errored:       %d\n", erroredJobs)
	fmt.Println()

	// Retention policy
	fmt.Printf("History Retention:\n")
	if retention := cfg.GetTrackerConfig().HistoryRetention(); retention > 0 {
		fmt.Printf("  Archived jobs older than %d days are pruned\n", cfg.Tracker.HistoryRetentionDays)
	} else {
		fmt.Printf("  Disabled (archived jobs are kept forever)\n")
	}
	fmt.Println()

	// Persisted tracker state entries
	if err := printStateEntries(database); err != nil {
		return err
	}

	// Recent archived jobs
	return printRecentArchived(database, statsLimitFlag)
}

// printStateEntries lists the kv_state rows holding persisted tracker state
func printStateEntries(database *sql.DB) error {
	rows, err := database.Query(`SELECT key, version, length(value), updated_at FROM kv_state ORDER BY key`)
	if err != nil {
		return fmt.Errorf("failed to query state entries: %w", err)
	}
	defer rows.Close()

	fmt.Printf("Persisted State:\n")
	hasEntries := false
	for rows.Next() {
		hasEntries = true
		var (
			key       string
			version   int64
			valueLen  int64
			updatedAt sql.NullTime
		)
		if err := rows.Scan(&key, &version, &valueLen, &updatedAt); err != nil {
			return fmt.Errorf("failed to scan state entry: %w", err)
		}

		updated := "never"
		if updatedAt.Valid {
			updated = updatedAt.Time.Format("2006-01-02 15:04:05")
		}
		fmt.Printf("  %s (version %d, %d bytes, updated %s)\n", key, version, valueLen, updated)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating state entries: %w", err)
	}

	if !hasEntries {
		fmt.Println("  No state persisted yet")
	}
	fmt.Println()
	return nil
}

// printRecentArchived lists the most recently archived jobs
func printRecentArchived(database *sql.DB, limit int) error {
	rows, err := database.Query(`
		SELECT job_id, status, message, forced, archived_at
		FROM job_history
		ORDER BY archived_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return fmt.Errorf("failed to query archived jobs: %w", err)
	}
	defer rows.Close()

	fmt.Printf("Recent Archived Jobs (last %d):\n", limit)
	fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")

	hasJobs := false
	for rows.Next() {
		hasJobs = true
		var (
			jobID      string
			status     string
			message    string
			forced     bool
			archivedAt sql.NullTime
		)
		if err := rows.Scan(&jobID, &status, &message, &forced, &archivedAt); err != nil {
			return fmt.Errorf("failed to scan archived job: %w", err)
		}

		stamp := "unknown"
		if archivedAt.Valid {
			stamp = archivedAt.Time.Format("2006-01-02 15:04:05")
		}
		detail := message
		if forced {
			detail += " [forced]"
		}
		fmt.Printf("  [%s] %s %s: %s\n", stamp, jobID, status, detail)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating archived jobs: %w", err)
	}

	if !hasJobs {
		fmt.Println("  No archived jobs yet")
	}
	return nil
}
