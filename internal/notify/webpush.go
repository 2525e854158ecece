// Package notify delivers Web Push notifications about agent sessions to
// subscribed browsers. It owns the VAPID key pair, the subscription set and
// the shape of every notification payload; callers hand it domain events,
// never raw bytes.
package notify

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	webpush "github.com/SherClockHolmes/webpush-go"
)

const keysFile = "vapid.json"

// vapidSubscriber identifies the push sender to the push service, as the
// VAPID spec requires. No mail is ever sent there.
const vapidSubscriber = "mailto:foreman@localhost"

// SessionExit is the notification sent when an agent process ends.
type SessionExit struct {
	AgentID  string `json:"agentId"`
	TaskID   string `json:"taskId"`
	Command  string `json:"command"`
	ExitCode *int   `json:"exitCode"`
	Signal   string `json:"signal,omitempty"`
}

// Manager fans notifications out to every registered push subscription,
// signing each send with a VAPID key pair persisted across restarts.
type Manager struct {
	logger *slog.Logger
	keys   vapidKeys

	mu   sync.Mutex
	subs map[string]*webpush.Subscription // keyed by endpoint
}

type vapidKeys struct {
	Private string `json:"privateKey"`
	Public  string `json:"publicKey"`
}

func NewManager(logger *slog.Logger) (*Manager, error) {
	path, err := keysPath()
	if err != nil {
		return nil, err
	}

	keys, err := loadKeys(path)
	if err != nil {
		keys, err = generateKeys()
		if err != nil {
			return nil, err
		}
		if err := saveKeys(path, keys); err != nil {
			return nil, err
		}
		logger.Info("generated new VAPID keys", "path", path)
	} else {
		logger.Info("loaded VAPID keys", "path", path)
	}

	return &Manager{
		logger: logger,
		keys:   keys,
		subs:   make(map[string]*webpush.Subscription),
	}, nil
}

// VAPIDPublicKey returns the key browsers use when registering a push
// subscription against this server.
func (m *Manager) VAPIDPublicKey() string {
	return m.keys.Public
}

func (m *Manager) Subscribe(sub *webpush.Subscription) {
	m.mu.Lock()
	_, known := m.subs[sub.Endpoint]
	m.subs[sub.Endpoint] = sub
	m.mu.Unlock()

	if !known {
		m.logger.Info("push subscription added", "endpoint", truncate(sub.Endpoint, 50))
	}
}

func (m *Manager) Unsubscribe(endpoint string) {
	m.mu.Lock()
	delete(m.subs, endpoint)
	m.mu.Unlock()
}

// SessionExited pushes an exit notice to every subscriber. Sends are best
// effort: failures are logged and skipped.
func (m *Manager) SessionExited(ev SessionExit) {
	payload, err := exitPayload(ev)
	if err != nil {
		m.logger.Warn("failed to encode push payload", "err", err)
		return
	}
	m.send(payload)
}

func exitPayload(ev SessionExit) ([]byte, error) {
	return json.Marshal(struct {
		Type string `json:"type"`
		SessionExit
	}{Type: "session_exit", SessionExit: ev})
}

func (m *Manager) send(payload []byte) {
	m.mu.Lock()
	subs := make([]*webpush.Subscription, 0, len(m.subs))
	for _, sub := range m.subs {
		subs = append(subs, sub)
	}
	m.mu.Unlock()

	for _, sub := range subs {
		resp, err := webpush.SendNotification(payload, sub, &webpush.Options{
			VAPIDPublicKey:  m.keys.Public,
			VAPIDPrivateKey: m.keys.Private,
			Subscriber:      vapidSubscriber,
		})
		if err != nil {
			m.logger.Debug("push send failed", "endpoint", truncate(sub.Endpoint, 50), "err", err)
			continue
		}
		resp.Body.Close()
	}
}

func keysPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home dir: %w", err)
	}
	return filepath.Join(home, ".config", "foreman", keysFile), nil
}

func loadKeys(path string) (vapidKeys, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return vapidKeys{}, err
	}
	var keys vapidKeys
	if err := json.Unmarshal(data, &keys); err != nil {
		return vapidKeys{}, fmt.Errorf("parse VAPID key file: %w", err)
	}
	if keys.Private == "" || keys.Public == "" {
		return vapidKeys{}, errors.New("incomplete VAPID key file")
	}
	return keys, nil
}

func generateKeys() (vapidKeys, error) {
	priv, pub, err := webpush.GenerateVAPIDKeys()
	if err != nil {
		return vapidKeys{}, fmt.Errorf("generate VAPID keys: %w", err)
	}
	return vapidKeys{Private: priv, Public: pub}, nil
}

func saveKeys(path string, keys vapidKeys) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := json.MarshalIndent(keys, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("save VAPID keys: %w", err)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
