package asset

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestParseFileName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    FileName
		wantErr bool
	}{
		{
			name:  "signed metadata",
			input: "name_metadata_9123.apng",
			want:  NewFileName("name", Metadata(9123), true),
		},
		{
			name:  "unsigned metadata",
			input: "unsigned_polkadot_metadata_9123.apng",
			want:  NewFileName("polkadot", Metadata(9123), false),
		},
		{
			name:  "unsigned chain with underscores",
			input: "unsigned_name_with_underscore_metadata_91.apng",
			want:  NewFileName("name_with_underscore", Metadata(91), false),
		},
		{
			name:  "signed specs",
			input: "polkadot_specs.png",
			want:  NewFileName("polkadot", Specs(), true),
		},
		{
			name:  "unsigned specs",
			input: "unsigned_polkadot_specs.png",
			want:  NewFileName("polkadot", Specs(), false),
		},
		{
			name:  "relay namespaced chain",
			input: "polkadot-statemint_metadata_1000.apng",
			want:  NewFileName("polkadot-statemint", Metadata(1000), true),
		},
		{
			name:  "version zero",
			input: "westend_metadata_0.apng",
			want:  NewFileName("westend", Metadata(0), true),
		},
		{
			name:  "non canonical extension is preserved",
			input: "kusama_metadata_9.png",
			want:  FileName{Chain: "kusama", Content: Metadata(9), Signed: true, Extension: "png"},
		},
		{
			name:  "no extension",
			input: "kusama_specs",
			want:  FileName{Chain: "kusama", Content: Specs(), Signed: true},
		},
		{name: "unknown suffix", input: "invalid_9123.apng", wantErr: true},
		{name: "no suffix at all", input: "polkadot.apng", wantErr: true},
		{name: "empty chain for specs", input: "_specs.png", wantErr: true},
		{name: "empty chain for metadata", input: "unsigned__metadata_9.apng", wantErr: true},
		{name: "bare specs", input: "specs.png", wantErr: true},
		{name: "non numeric version", input: "kusama_metadata_abc.apng", wantErr: true},
		{name: "latest pointer", input: "kusama_metadata_latest.apng", wantErr: true},
		{name: "negative version", input: "kusama_metadata_-1.apng", wantErr: true},
		{name: "plus sign version", input: "kusama_metadata_+1.apng", wantErr: true},
		{name: "leading zeros", input: "kusama_metadata_007.apng", wantErr: true},
		{name: "version overflow", input: "kusama_metadata_4294967296.apng", wantErr: true},
		{name: "empty version", input: "kusama_metadata_.apng", wantErr: true},
		{name: "empty extension", input: "kusama_specs.", wantErr: true},
		{name: "dotfile", input: ".gitkeep", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseFileName(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				require.ErrorIs(t, err, ErrParse)
				var parseErr *ParseError
				require.ErrorAs(t, err, &parseErr)
				require.Equal(t, tt.input, parseErr.Name)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
			require.Equal(t, tt.input, got.String())
		})
	}
}

func TestFileName_String(t *testing.T) {
	require.Equal(t, "chain_metadata_9000.apng", NewFileName("chain", Metadata(9000), true).String())
	require.Equal(t, "unsigned_chain_metadata_9000.apng", NewFileName("chain", Metadata(9000), false).String())
	require.Equal(t, "polkadot_specs.png", NewFileName("polkadot", Specs(), true).String())
	require.Equal(t, "unsigned_polkadot_specs.png", NewFileName("polkadot", Specs(), false).String())
}

func TestParsePath(t *testing.T) {
	path := filepath.Join("foo", "bar", "name_metadata_9123.apng")
	parsed, err := ParsePath(path)
	require.NoError(t, err)
	require.Equal(t, filepath.Join("foo", "bar"), parsed.Dir)
	require.Equal(t, NewFileName("name", Metadata(9123), true), parsed.Name)
	require.Equal(t, path, parsed.String())

	_, err = ParsePath(filepath.Join("foo", "invalid_9123.apng"))
	require.ErrorIs(t, err, ErrParse)
}

func TestContentKind(t *testing.T) {
	v, ok := Metadata(42).Version()
	require.True(t, ok)
	require.Equal(t, uint32(42), v)
	require.Equal(t, KindMetadata, Metadata(42).Kind())

	_, ok = Specs().Version()
	require.False(t, ok)
	require.Equal(t, KindSpecs, Specs().Kind())

	require.Equal(t, Metadata(1), Metadata(1))
	require.NotEqual(t, Metadata(1), Metadata(2))
	require.NotEqual(t, Metadata(0), Specs())
}

func TestSlot_IgnoresSigningAndExtension(t *testing.T) {
	signed := NewFileName("polkadot", Metadata(9001), true)
	unsigned := NewFileName("polkadot", Metadata(9001), false)
	unsigned.Extension = "png"
	require.Equal(t, signed.Slot(), unsigned.Slot())
	require.NotEqual(t, signed.Slot(), NewFileName("polkadot", Metadata(9002), true).Slot())
}

func TestLatestPointer(t *testing.T) {
	require.Equal(t, "kusama_metadata_latest.apng", LatestPointerName("kusama", "apng"))
	require.True(t, IsLatestPointer("kusama_metadata_latest.apng"))
	require.True(t, IsLatestPointer("name_with_underscore_metadata_latest.apng"))
	require.True(t, IsLatestPointer("kusama_metadata_latest"))
	require.False(t, IsLatestPointer("_metadata_latest.apng"))
	require.False(t, IsLatestPointer("kusama_metadata_10.apng"))

	chain, ok := LatestPointerChain("name_with_underscore_metadata_latest.png")
	require.True(t, ok)
	require.Equal(t, "name_with_underscore", chain)
	_, ok = LatestPointerChain("kusama_specs.png")
	require.False(t, ok)
}

// chainGen draws chain identifiers that may contain underscores and relay
// separators. Identifiers starting with the unsigned prefix are ambiguous by
// construction of the naming scheme and are excluded.
func chainGen() *rapid.Generator[string] {
	return rapid.StringMatching(`[a-z][a-z0-9]{0,8}([_-][a-z0-9]{1,8}){0,3}`).Filter(func(s string) bool {
		return len(s) < len(UnsignedPrefix) || s[:len(UnsignedPrefix)] != UnsignedPrefix
	})
}

func fileNameGen() *rapid.Generator[FileName] {
	return rapid.Custom(func(t *rapid.T) FileName {
		chain := chainGen().Draw(t, "chain")
		content := Specs()
		if rapid.Bool().Draw(t, "metadata") {
			content = Metadata(rapid.Uint32().Draw(t, "version"))
		}
		fn := NewFileName(chain, content, rapid.Bool().Draw(t, "signed"))
		fn.Extension = rapid.SampledFrom([]string{fn.Extension, "png", "apng", "gif", ""}).Draw(t, "ext")
		return fn
	})
}

func TestProperty_RoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		fn := fileNameGen().Draw(t, "name")
		s := fn.String()

		parsed, err := ParseFileName(s)
		if err != nil {
			t.Fatalf("parse %q: %v", s, err)
		}
		if parsed != fn {
			t.Fatalf("decoded %+v, want %+v", parsed, fn)
		}
		if parsed.String() != s {
			t.Fatalf("encode(decode(%q)) = %q", s, parsed.String())
		}
	})
}

func TestProperty_ParseNeverPanics(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		s := rapid.String().Draw(t, "name")
		fn, err := ParseFileName(s)
		if err == nil && fn.String() != s {
			t.Fatalf("accepted %q but encodes to %q", s, fn.String())
		}
	})
}

func ExampleParseFileName() {
	fn, _ := ParseFileName("unsigned_name_with_underscore_metadata_91.apng")
	v, _ := fn.Content.Version()
	fmt.Println(fn.Chain, v, fn.Signed)
	// Output: name_with_underscore 91 false
}
