// Package gitlimits serves the ledger's limits table from a Git repository.
//
// The repository is cloned once at startup and then pulled on an interval.
// When a pull moves HEAD and the diff touches the limits file, the file is
// parsed and validated; valid limits are handed to the apply callback and an
// invalid commit is skipped so the previously applied limits stay active.
//
// Basic usage:
//
//	repo, err := gitlimits.NewRepository(cfg.Ledger.LimitsGit)
//	if err != nil {
//	    return err
//	}
//	if err := repo.Clone(ctx); err != nil {
//	    return err
//	}
//	limits, err := repo.Load()
//	...
//	poller := gitlimits.NewPoller(repo, cfg.Ledger.LimitsGit.PollInterval, func(l config.LimitsConfig) error {
//	    ledger.SetLimits(l.ToLedger())
//	    return nil
//	})
//	poller.Start(ctx)
//	defer poller.Stop()
package gitlimits
