package main

import (
	"fmt"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	json "github.com/goccy/go-json"
	"github.com/urfave/cli/v2"

	"github.com/chmdznr/worldbackup/internal/archive"
	"github.com/chmdznr/worldbackup/internal/backup"
	"github.com/chmdznr/worldbackup/internal/config"
	"github.com/chmdznr/worldbackup/internal/db"
	"github.com/chmdznr/worldbackup/internal/logging"
	"github.com/chmdznr/worldbackup/internal/retention"
	"github.com/chmdznr/worldbackup/pkg/models"
	"github.com/chmdznr/worldbackup/pkg/utils"
)

// loadConfig reads the config and applies it, plus any flag overrides, to the
// global logger.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, err
	}
	if v := c.String("log-level"); v != "" {
		cfg.Logging.Level = v
	}
	if v := c.String("log-format"); v != "" {
		cfg.Logging.Format = v
	}
	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})
	return cfg, nil
}

func runBackup(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	dryRun := c.Bool("dry-run")
	svc, err := backup.Setup(c.Context, cfg, backup.SetupOptions{
		Progress:  c.Bool("progress"),
		NoRemote:  dryRun,
		NoHistory: dryRun,
	})
	if err != nil {
		return err
	}
	defer svc.Close()

	var s *backup.Summary
	if dryRun {
		s, err = svc.DryRun(c.Context)
	} else {
		s, err = svc.Run(c.Context)
	}
	if c.Bool("json") {
		if perr := printJSON(s); perr != nil {
			return perr
		}
	} else {
		printSummary(s)
	}
	return err
}

func showFingerprint(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	svc, err := backup.Setup(c.Context, cfg, backup.SetupOptions{NoRemote: true, NoHistory: true})
	if err != nil {
		return err
	}
	defer svc.Close()

	fp, changed, err := svc.Check()
	if err != nil {
		return err
	}
	fmt.Printf("Fingerprint: %s\n", fp)
	fmt.Printf("Changed:     %v\n", changed)
	return nil
}

func prune(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	svc, err := backup.Setup(c.Context, cfg, backup.SetupOptions{NoHistory: true})
	if err != nil {
		return err
	}
	defer svc.Close()

	s, err := svc.Prune(c.Context, c.Bool("dry-run"))
	if err != nil {
		return err
	}
	if c.Bool("json") {
		return printJSON(s)
	}
	printSummary(s)
	return nil
}

// printStats summarises the run history stored at path.
func printStats(path string) error {
	history, err := db.New(path)
	if err != nil {
		return fmt.Errorf("failed to open history database: %w", err)
	}
	defer history.Close()

	stats, err := history.GetStats()
	if err != nil {
		return fmt.Errorf("failed to get stats: %w", err)
	}
	fmt.Printf("Runs:        %d (success %d, partial %d, skipped %d, failed %d)\n",
		stats.TotalRuns, stats.SuccessRuns, stats.PartialRuns, stats.SkippedRuns, stats.FailedRuns)
	fmt.Printf("Uploaded:    %s\n", utils.FormatSize(stats.UploadedSize))
	if stats.LastRun != nil {
		fmt.Printf("Last run:    %s ago\n", utils.FormatDuration(time.Since(*stats.LastRun)))
	}
	if stats.LastBackup != nil {
		fmt.Printf("Last backup: %s (%s ago)\n", stats.LastBackupRef, utils.FormatDuration(time.Since(*stats.LastBackup)))
	}
	return nil
}

// showStatus prints history statistics and the archives currently on disk.
func showStatus(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	fmt.Printf("Sources:     %v\n", cfg.Sources.Dirs)
	fmt.Printf("Backup dir:  %s\n", cfg.Backup.Dir)
	fmt.Printf("Remote:      %s\n", remoteStatus(cfg.Remote))

	if cfg.Backup.HistoryDB != "" {
		if err := printStats(cfg.Backup.HistoryDB); err != nil {
			return err
		}
	}

	local, err := retention.ScanLocal(cfg.Backup.Dir, cfg.Backup.Prefix, archive.Ext)
	if err != nil {
		return err
	}
	sort.Slice(local, func(i, j int) bool { return local[i].ModTime.Before(local[j].ModTime) })
	var total int64
	for _, a := range local {
		total += a.Size
	}
	fmt.Printf("Local:       %d archives (%s)\n", len(local), utils.FormatSize(total))
	for _, a := range local {
		taken := archiveTime(cfg.Backup.Prefix, a)
		fmt.Printf("  %-40s %10s  %s\n", a.Name, utils.FormatSize(a.Size), taken.Format(time.DateTime))
	}
	return nil
}

func remoteStatus(r config.RemoteConfig) string {
	switch {
	case r.Configured():
		return fmt.Sprintf("%s %s/%s", r.Backend, r.Bucket, r.Folder)
	case r.Enabled:
		return fmt.Sprintf("disabled (%v)", r.Problem())
	default:
		return "disabled"
	}
}

// archiveTime is the backup time embedded in the archive name, or the file's
// mtime for names that do not parse.
func archiveTime(prefix string, a models.BackupArtifact) time.Time {
	if t, ok := archive.ParseName(prefix, a.Name); ok {
		return t
	}
	return a.ModTime
}

func showHistory(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if cfg.Backup.HistoryDB == "" {
		return fmt.Errorf("run history is disabled (backup.history_db is empty)")
	}
	history, err := db.New(cfg.Backup.HistoryDB)
	if err != nil {
		return fmt.Errorf("failed to open history database: %w", err)
	}
	defer history.Close()

	runs, err := history.ListRuns(c.Int("limit"))
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STARTED\tOUTCOME\tARCHIVE\tSIZE\tERRORS")
	for _, r := range runs {
		size := ""
		if r.ArtifactName != "" {
			size = utils.FormatSize(r.ArtifactSize)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\n", r.StartedAt.Format(time.DateTime), r.Outcome, r.ArtifactName, size, len(r.Errors))
	}
	return w.Flush()
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printSummary(s *backup.Summary) {
	if s == nil {
		return
	}
	fmt.Printf("Outcome: %s\n", s.Outcome)
	if s.Artifact != nil {
		fmt.Printf("Archive: %s (%s)\n", s.Artifact.Name, utils.FormatSize(s.Artifact.Size))
	}
	for _, st := range s.Steps {
		line := fmt.Sprintf("  %-13s %-8s", st.Step, st.Status)
		if st.Detail != "" {
			line += " " + st.Detail
		}
		if st.Error != "" {
			line += " error: " + st.Error
		}
		fmt.Println(line)
	}
}
