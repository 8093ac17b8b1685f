package chmembership

import (
	"errors"

	"github.com/go-zookeeper/zk"
	log "github.com/sirupsen/logrus"
)

// monitorSession re-registers the local member in every group once a new
// session replaces an expired one. Ephemeral members die with their session;
// watches are invalidated and handled by monitorGroup.
func (m *Membership) monitorSession() {
	defer close(m.sessionDone)
	events := m.zkc.SessionEvents()
	expired := false
	for {
		select {
		case <-m.stopSession:
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			if evt.Type != zk.EventSession {
				continue
			}
			switch evt.State {
			case zk.StateExpired:
				log.Warn("chmembership: session expired")
				expired = true
			case zk.StateHasSession:
				if expired {
					expired = false
					m.reregister()
				}
			}
		}
	}
}

func (m *Membership) reregister() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, g := range m.groups {
		_, err := m.zkc.Create(g.self, m.payload, zk.FlagEphemeral)
		if err != nil && !errors.Is(err, zk.ErrNodeExists) {
			log.WithFields(log.Fields{"group": g.name, "path": g.self}).WithError(err).Error("chmembership: unable to re-register")
			continue
		}
		log.Infof("chmembership: re-registered %v in %v", m.cfg.Identity.ID, g.name)
	}
}
