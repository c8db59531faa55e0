// Package sftppush provides a transport that uploads batches as JSON files
// to a remote host over SSH/SFTP.
package sftppush

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"sync"

	"github.com/pkg/sftp"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/ssh"

	"github.com/stacktake/stacktake/pkg/engine"
)

// Transport uploads each batch to RemoteDir/<job-id>/batch-<seq>.json on
// the remote host. The SSH connection is established lazily on the first
// send and reused until Close; a dead connection is redialed on the next
// send.
type Transport struct {
	config *Config

	mu         sync.Mutex
	sshClient  *ssh.Client
	sftpClient *sftp.Client
}

// New creates an SFTP push transport. The connection is not opened here;
// the first Send dials it.
func New(cfg *Config) (*Transport, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &Transport{config: cfg}, nil
}

// Name implements engine.Transport.
func (t *Transport) Name() string { return "sftppush" }

// Send implements engine.Transport.
func (t *Transport) Send(ctx context.Context, batch *engine.Batch) error {
	data, err := json.Marshal(batch)
	if err != nil {
		return engine.NewPermanentError("failed to encode batch", err).
			WithCode(engine.ErrCodeDeliveryFailed).WithJob(batch.JobID)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	client, err := t.connectLocked(ctx)
	if err != nil {
		return err
	}

	jobDir := path.Join(t.config.RemoteDir, batch.JobID)
	if err := client.MkdirAll(jobDir); err != nil {
		t.dropConnectionLocked()
		return engine.NewTransientError("failed to create remote dir", err).
			WithCode(engine.ErrCodeDeliveryFailed).WithJob(batch.JobID)
	}

	// Upload to a temp name and rename so readers never see partial batches.
	final := path.Join(jobDir, fmt.Sprintf("batch-%06d.json", batch.Seq))
	tmp := final + ".tmp"

	f, err := client.Create(tmp)
	if err != nil {
		t.dropConnectionLocked()
		return engine.NewTransientError("failed to create remote file", err).
			WithCode(engine.ErrCodeDeliveryFailed).WithJob(batch.JobID)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = client.Remove(tmp)
		t.dropConnectionLocked()
		return engine.NewTransientError("failed to write remote file", err).
			WithCode(engine.ErrCodeDeliveryFailed).WithJob(batch.JobID)
	}
	if err := f.Close(); err != nil {
		_ = client.Remove(tmp)
		t.dropConnectionLocked()
		return engine.NewTransientError("failed to close remote file", err).
			WithCode(engine.ErrCodeDeliveryFailed).WithJob(batch.JobID)
	}
	if err := client.PosixRename(tmp, final); err != nil {
		// Fall back to plain rename for servers without the extension.
		if err := client.Rename(tmp, final); err != nil {
			_ = client.Remove(tmp)
			t.dropConnectionLocked()
			return engine.NewTransientError("failed to finalize remote file", err).
				WithCode(engine.ErrCodeDeliveryFailed).WithJob(batch.JobID)
		}
	}
	return nil
}

// Close shuts down the SFTP and SSH connections.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.dropConnectionLocked()
	return nil
}

// connectLocked returns a live SFTP client, dialing if needed. Must be
// called with the mutex held.
func (t *Transport) connectLocked(ctx context.Context) (*sftp.Client, error) {
	if t.sftpClient != nil {
		return t.sftpClient, nil
	}

	clientConfig, err := t.config.buildSSHClientConfig()
	if err != nil {
		return nil, engine.NewPermanentError("failed to build ssh config", err).
			WithCode(engine.ErrCodeDeliveryFailed)
	}

	address := t.config.Address()
	log.Debug().Str("address", address).Msg("establishing SSH connection")

	connChan := make(chan *ssh.Client, 1)
	errChan := make(chan error, 1)
	go func() {
		client, err := ssh.Dial("tcp", address, clientConfig)
		if err != nil {
			errChan <- err
			return
		}
		connChan <- client
	}()

	select {
	case <-ctx.Done():
		return nil, engine.NewTransientError("connect cancelled", ctx.Err()).
			WithCode(engine.ErrCodeDeliveryFailed)
	case err := <-errChan:
		return nil, engine.NewTransientError("failed to connect", err).
			WithCode(engine.ErrCodeDeliveryFailed)
	case client := <-connChan:
		sftpClient, err := sftp.NewClient(client)
		if err != nil {
			_ = client.Close()
			return nil, engine.NewTransientError("failed to start sftp subsystem", err).
				WithCode(engine.ErrCodeDeliveryFailed)
		}
		t.sshClient = client
		t.sftpClient = sftpClient
		log.Info().Str("address", address).Msg("SFTP connection established")
		return sftpClient, nil
	}
}

// dropConnectionLocked closes and forgets the current connection so the
// next send redials. Must be called with the mutex held.
func (t *Transport) dropConnectionLocked() {
	if t.sftpClient != nil {
		_ = t.sftpClient.Close()
		t.sftpClient = nil
	}
	if t.sshClient != nil {
		_ = t.sshClient.Close()
		t.sshClient = nil
	}
}
