// Package notify carries channel state notifications to interested parties.
//
// Channels report a small closed set of semantic states: lifecycle changes
// and the device conditions that driver error codes map to (authorization
// failure, network failure, reboot, internal failure). Delivery is one-way
// and best-effort.
//
// A Journal appends notifications to a file in CBOR so that a run can be
// inspected afterwards:
//
//	j, err := notify.OpenJournal("/var/lib/devchannel/journal.cbor")
//	if err != nil {
//	    return err
//	}
//	defer j.Close()
//	dev := device.New("encoder-1", device.WithNotifier(j))
package notify
