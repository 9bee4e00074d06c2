package storage

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequireLocalDisk(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		fsType   string
		probeErr error
		network  bool
		wantErr  []string
	}{
		{name: "ext4 magic", fsType: "0xef53"},
		{name: "apfs", fsType: "apfs"},
		{name: "nfs", fsType: "nfs", network: true, wantErr: []string{"nfs", "journal.path"}},
		{name: "smb", fsType: "smbfs", network: true, wantErr: []string{"smbfs", "SWITCHBOARD_JOURNAL_PATH"}},
		{name: "probe failure", probeErr: errors.New("statfs denied"), wantErr: []string{"detect filesystem", "statfs denied"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			dbPath := filepath.Join(t.TempDir(), "journal.db")
			err := requireLocalDiskWith(dbPath, func(string) (string, error) {
				return tt.fsType, tt.probeErr
			})
			if len(tt.wantErr) == 0 {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tt.network, errors.Is(err, ErrNetworkFS))
			for _, want := range tt.wantErr {
				assert.Contains(t, err.Error(), want)
			}
		})
	}
}

func TestRequireLocalDiskProbesExistingAncestor(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	var probed string
	err := requireLocalDiskWith(filepath.Join(root, "a", "b", "journal.db"), func(p string) (string, error) {
		probed = p
		return "apfs", nil
	})
	require.NoError(t, err)
	assert.Equal(t, root, probed)
}

func TestRequireLocalDiskEmptyPath(t *testing.T) {
	t.Parallel()
	assert.Error(t, requireLocalDiskWith("  ", func(string) (string, error) { return "apfs", nil }))
}

func TestRemoteFS(t *testing.T) {
	t.Parallel()

	cases := map[string]bool{
		"nfs":    true,
		"SMBFS":  true,
		" cifs ": true,
		"apfs":   false,
		"0x6969": false,
	}
	for name, want := range cases {
		assert.Equal(t, want, remoteFS(name), name)
	}
}
