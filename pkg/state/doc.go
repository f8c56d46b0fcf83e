// Package state persists a snapshot of the last notification of every
// channel, so a restarted host (or an operator) can see what each channel
// was doing when the previous run ended.
//
// # Usage
//
//	repo := state.NewFileRepository("/var/lib/devchannel")
//	prev, err := repo.Load(ctx)
//	if err != nil {
//	    return err
//	}
//	for _, ch := range prev.Unclean() {
//	    // ch was still running when the last snapshot was written
//	}
//
//	rec := state.NewRecorder(deviceID, repo, logger)
//	go rec.Run(ctx) // saves after every burst of notifications
//	notifier := notify.Multi{rec, other}
//
// State JSON uses snake_case field names.
package state
