// Package jobs runs Warden's periodic maintenance work.
//
// The only job today is the expired-token purge. Verification, reset and
// two-factor tokens are deleted when consumed, but abandoned ones and used
// auth codes stay in auth_tokens until their expiry passes and the purge
// removes them.
//
//	sched := jobs.NewScheduler(tokenStore, logger, metrics)
//	if err := sched.RegisterPurge(cfg.Jobs.PurgeSchedule); err != nil {
//		return err
//	}
//	sched.Start()
//	defer sched.Stop(ctx)
package jobs
