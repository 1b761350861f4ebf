package presence

import (
	"sync"

	"github.com/google/uuid"
)

// Sender is the capability a live connection exposes for fan-out. Sends
// are best-effort; a failed or slow connection never fails the caller.
type Sender interface {
	Send(event string, args ...any)
}

type entry struct {
	connID   uuid.UUID
	userID   int64
	deviceID *int64
	handle   Sender
}

// Directory tracks which users and devices currently hold a live
// connection. It holds non-owning references only: the connection
// registers itself after authenticating and unregisters on disconnect.
//
// A connection that registered with a device id is reachable only through
// the device fan-out path, never the user path; the two addressing modes
// are disjoint, matching how digests target either a user's password key
// or one device's key.
type Directory struct {
	mu       sync.RWMutex
	byUser   map[int64]map[uuid.UUID]*entry
	byDevice map[int64]map[uuid.UUID]*entry
	byConn   map[uuid.UUID]*entry
}

func NewDirectory() *Directory {
	return &Directory{
		byUser:   make(map[int64]map[uuid.UUID]*entry),
		byDevice: make(map[int64]map[uuid.UUID]*entry),
		byConn:   make(map[uuid.UUID]*entry),
	}
}

// Register adds a connection under its user identity, or under its device
// identity when deviceID is set. Each connection id is unique, so two
// connections for the same user never displace each other.
func (d *Directory) Register(userID int64, connID uuid.UUID, handle Sender, deviceID *int64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	e := &entry{connID: connID, userID: userID, deviceID: deviceID, handle: handle}
	d.byConn[connID] = e

	if deviceID != nil {
		if d.byDevice[*deviceID] == nil {
			d.byDevice[*deviceID] = make(map[uuid.UUID]*entry)
		}
		d.byDevice[*deviceID][connID] = e
		return
	}
	if d.byUser[userID] == nil {
		d.byUser[userID] = make(map[uuid.UUID]*entry)
	}
	d.byUser[userID][connID] = e
}

// Unregister removes a connection from all indices. Unknown connection
// ids are a no-op: a connection may disconnect before authenticating.
func (d *Directory) Unregister(connID uuid.UUID) {
	d.mu.Lock()
	defer d.mu.Unlock()

	e, ok := d.byConn[connID]
	if !ok {
		return
	}
	delete(d.byConn, connID)

	if e.deviceID != nil {
		delete(d.byDevice[*e.deviceID], connID)
		if len(d.byDevice[*e.deviceID]) == 0 {
			delete(d.byDevice, *e.deviceID)
		}
		return
	}
	delete(d.byUser[e.userID], connID)
	if len(d.byUser[e.userID]) == 0 {
		delete(d.byUser, e.userID)
	}
}

// SendToUser pushes an event to every live connection registered under
// the user identity. Offline users are silently skipped.
func (d *Directory) SendToUser(userID int64, event string, args ...any) {
	for _, handle := range d.handlesFor(d.byUser, userID) {
		handle.Send(event, args...)
	}
}

// SendToDevice pushes an event to every live connection registered under
// the device identity.
func (d *Directory) SendToDevice(deviceID int64, event string, args ...any) {
	for _, handle := range d.handlesFor(d.byDevice, deviceID) {
		handle.Send(event, args...)
	}
}

// handlesFor snapshots the handles under the read lock so sends happen
// outside it.
func (d *Directory) handlesFor(index map[int64]map[uuid.UUID]*entry, id int64) []Sender {
	d.mu.RLock()
	defer d.mu.RUnlock()

	entries := index[id]
	if len(entries) == 0 {
		return nil
	}
	handles := make([]Sender, 0, len(entries))
	for _, e := range entries {
		handles = append(handles, e.handle)
	}
	return handles
}
