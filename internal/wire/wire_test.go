package wire

import (
	"strings"
	"testing"
)

func TestOpenResponseRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		resp OpenResponse
	}{
		{
			name: "file",
			resp: OpenResponse{Kind: KindFile, File: &FileInfo{Name: "/index.html"}},
		},
		{
			name: "dir",
			resp: OpenResponse{Kind: KindDir, Entries: []FileInfo{{Name: "a.txt"}, {Name: "b.txt"}}},
		},
		{
			name: "error",
			resp: OpenResponse{Kind: KindError, Err: ErrNotAllowed},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := Encode(&tt.resp)
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}

			var got OpenResponse
			if err := Decode(data, &got); err != nil {
				t.Fatalf("Decode: %v", err)
			}

			if got.Kind != tt.resp.Kind {
				t.Errorf("Kind = %d, want %d", got.Kind, tt.resp.Kind)
			}
			if got.Err != tt.resp.Err {
				t.Errorf("Err = %d, want %d", got.Err, tt.resp.Err)
			}
			if (got.File == nil) != (tt.resp.File == nil) {
				t.Fatalf("File presence = %v, want %v", got.File != nil, tt.resp.File != nil)
			}
			if got.File != nil && got.File.Name != tt.resp.File.Name {
				t.Errorf("File.Name = %q, want %q", got.File.Name, tt.resp.File.Name)
			}
			if len(got.Entries) != len(tt.resp.Entries) {
				t.Fatalf("len(Entries) = %d, want %d", len(got.Entries), len(tt.resp.Entries))
			}
			for i := range got.Entries {
				if got.Entries[i] != tt.resp.Entries[i] {
					t.Errorf("Entries[%d] = %v, want %v", i, got.Entries[i], tt.resp.Entries[i])
				}
			}
		})
	}
}

func TestServerConfigRoundTrip(t *testing.T) {
	cfg := ServerConfig{
		Locations: []Location{
			{Path: "/", Blocked: false},
			{Path: "/private/", Blocked: true},
		},
	}

	data, err := Encode(&cfg)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	var got ServerConfig
	if err := Decode(data, &got); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(got.Locations) != 2 {
		t.Fatalf("len(Locations) = %d, want 2", len(got.Locations))
	}
	if got.Locations[1] != cfg.Locations[1] {
		t.Errorf("Locations[1] = %v, want %v", got.Locations[1], cfg.Locations[1])
	}
}

func TestEncodeRejectsOversizedMessage(t *testing.T) {
	resp := OpenResponse{Kind: KindDir}
	for range 1000 {
		resp.Entries = append(resp.Entries, FileInfo{Name: strings.Repeat("x", 64)})
	}

	if _, err := Encode(&resp); err == nil {
		t.Error("Encode accepted a message larger than one datagram")
	}
}
