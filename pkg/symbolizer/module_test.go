package symbolizer

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewModuleRef(t *testing.T) {
	tests := []struct {
		name    string
		modName string
		debugID string
		want    ModuleRef
		wantErr bool
	}{
		{
			name:    "pdb name",
			modName: "chrome.dll.pdb",
			debugID: "0DE60153F69F4D2FBF6B4DE35A0BF3565",
			want: ModuleRef{
				PDBBaseName:    "chrome.dll.pdb",
				DebugID:        "0DE60153F69F4D2FBF6B4DE35A0BF3565",
				SymbolFileName: "chrome.dll.sym",
			},
		},
		{
			name:    "non-pdb name gets sym appended",
			modName: "libxul.so",
			debugID: "ABCD1234",
			want: ModuleRef{
				PDBBaseName:    "libxul.so",
				DebugID:        "ABCD1234",
				SymbolFileName: "libxul.so.sym",
			},
		},
		{
			name:    "windows path is reduced to base name",
			modName: `C:\Program Files\App\app.pdb`,
			debugID: "FFFF0000",
			want: ModuleRef{
				PDBBaseName:    "app.pdb",
				DebugID:        "FFFF0000",
				SymbolFileName: "app.sym",
			},
		},
		{
			name:    "unix path is reduced to base name",
			modName: "/usr/lib/libc.so",
			debugID: "1234",
			want: ModuleRef{
				PDBBaseName:    "libc.so",
				DebugID:        "1234",
				SymbolFileName: "libc.so.sym",
			},
		},
		{
			name:    "traversal in debug id rejected",
			modName: "app.pdb",
			debugID: "../../etc",
			wantErr: true,
		},
		{
			name:    "empty debug id rejected",
			modName: "app.pdb",
			debugID: "",
			wantErr: true,
		},
		{
			name:    "dot-dot module name rejected",
			modName: "..",
			debugID: "ABCD",
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewModuleRef(tt.modName, tt.debugID)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestModuleRefKey(t *testing.T) {
	a, err := NewModuleRef("app.pdb", "AAAA")
	require.NoError(t, err)
	b, err := NewModuleRef("app.pdb", "BBBB")
	require.NoError(t, err)
	require.NotEqual(t, a.key(), b.key())
}
