package enrich

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/require"

	"github.com/jusbridge/casesync/internal/store"
	"github.com/jusbridge/casesync/pkg/judit"
)

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })
	return s
}

// fakeJudit is a scriptable provider client for pipeline tests.
type fakeJudit struct {
	mu sync.Mutex

	submitResp *judit.SubmitResponse
	submitErr  error
	submits    []judit.SubmitRequest

	attachmentData map[string][]byte
	failCodes      map[string]bool
	downloads      []string
}

func (f *fakeJudit) Submit(_ context.Context, req judit.SubmitRequest) (*judit.SubmitResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submits = append(f.submits, req)
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	if f.submitResp != nil {
		return f.submitResp, nil
	}
	return &judit.SubmitResponse{RequestID: "req-fake", Status: "pending"}, nil
}

func (f *fakeJudit) DownloadAttachment(_ context.Context, _, code string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.downloads = append(f.downloads, code)
	if f.failCodes[code] {
		return nil, eris.Errorf("download failed for %s", code)
	}
	if data, ok := f.attachmentData[code]; ok {
		return data, nil
	}
	return []byte("%PDF-1.4 " + code), nil
}
