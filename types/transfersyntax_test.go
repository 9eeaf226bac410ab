package types

import "testing"

func TestGetTransferSyntaxInfo(t *testing.T) {
	tests := []struct {
		name           string
		uid            string
		wantName       string
		wantCompressed bool
		wantLossless   bool
	}{
		{
			name:           "Implicit VR Little Endian",
			uid:            ImplicitVRLittleEndian,
			wantName:       "Implicit VR Little Endian",
			wantCompressed: false,
			wantLossless:   true,
		},
		{
			name:           "Explicit VR Little Endian",
			uid:            ExplicitVRLittleEndian,
			wantName:       "Explicit VR Little Endian",
			wantCompressed: false,
			wantLossless:   true,
		},
		{
			name:           "JPEG Baseline",
			uid:            JPEGBaseline8Bit,
			wantName:       "JPEG Baseline (Process 1)",
			wantCompressed: true,
			wantLossless:   false,
		},
		{
			name:           "JPEG Lossless",
			uid:            JPEGLossless,
			wantName:       "JPEG Lossless (Process 14)",
			wantCompressed: true,
			wantLossless:   true,
		},
		{
			name:           "Unknown syntax",
			uid:            "1.2.3.4.5",
			wantName:       "Unknown",
			wantCompressed: false,
			wantLossless:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info := GetTransferSyntaxInfo(tt.uid)
			if info.Name != tt.wantName {
				t.Errorf("GetTransferSyntaxInfo(%s).Name = %s, want %s", tt.uid, info.Name, tt.wantName)
			}
			if info.IsCompressed != tt.wantCompressed {
				t.Errorf("GetTransferSyntaxInfo(%s).IsCompressed = %v, want %v", tt.uid, info.IsCompressed, tt.wantCompressed)
			}
			if info.IsLossless != tt.wantLossless {
				t.Errorf("GetTransferSyntaxInfo(%s).IsLossless = %v, want %v", tt.uid, info.IsLossless, tt.wantLossless)
			}
		})
	}
}

func TestIsSupported(t *testing.T) {
	for _, uid := range []string{ImplicitVRLittleEndian, ExplicitVRLittleEndian, JPEGBaseline8Bit, JPEGLosslessSV1} {
		if !IsSupported(uid) {
			t.Errorf("IsSupported(%s) = false, want true", uid)
		}
	}
	if IsSupported("1.2.3.4.5") {
		t.Error("IsSupported(unknown) = true, want false")
	}
}

func TestIsCompressed(t *testing.T) {
	tests := []struct {
		name string
		uid  string
		want bool
	}{
		{"Implicit VR LE", ImplicitVRLittleEndian, false},
		{"Explicit VR LE", ExplicitVRLittleEndian, false},
		{"Explicit VR BE", ExplicitVRBigEndian, false},
		{"JPEG Baseline", JPEGBaseline8Bit, true},
		{"JPEG Extended", JPEGExtended12Bit, true},
		{"JPEG Lossless", JPEGLossless, true},
		{"JPEG Lossless SV1", JPEGLosslessSV1, true},
		{"Unknown", "1.2.3.4.5", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsCompressed(tt.uid); got != tt.want {
				t.Errorf("IsCompressed(%s) = %v, want %v", tt.uid, got, tt.want)
			}
		})
	}
}

func TestIsLossless(t *testing.T) {
	tests := []struct {
		name string
		uid  string
		want bool
	}{
		{"Implicit VR LE", ImplicitVRLittleEndian, true},
		{"JPEG Baseline", JPEGBaseline8Bit, false},
		{"JPEG Extended", JPEGExtended12Bit, false},
		{"JPEG Lossless", JPEGLossless, true},
		{"JPEG Lossless SV1", JPEGLosslessSV1, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsLossless(tt.uid); got != tt.want {
				t.Errorf("IsLossless(%s) = %v, want %v", tt.uid, got, tt.want)
			}
		})
	}
}

func TestStorageTransferSyntaxes(t *testing.T) {
	syntaxes := StorageTransferSyntaxes()
	if len(syntaxes) == 0 {
		t.Fatal("StorageTransferSyntaxes() returned no syntaxes")
	}

	// Uncompressed syntaxes are preferred so intake avoids transcoding.
	if syntaxes[0] != ExplicitVRLittleEndian {
		t.Errorf("StorageTransferSyntaxes()[0] = %s, want %s", syntaxes[0], ExplicitVRLittleEndian)
	}

	for _, uid := range syntaxes {
		if !IsSupported(uid) {
			t.Errorf("StorageTransferSyntaxes() contains unsupported syntax %s", uid)
		}
	}
}

func TestWorklistTransferSyntaxes(t *testing.T) {
	syntaxes := WorklistTransferSyntaxes()
	if len(syntaxes) == 0 {
		t.Fatal("WorklistTransferSyntaxes() returned no syntaxes")
	}
	for _, uid := range syntaxes {
		if IsCompressed(uid) {
			t.Errorf("WorklistTransferSyntaxes() contains compressed syntax %s", uid)
		}
	}
}

func TestTransferSyntaxConstants(t *testing.T) {
	syntaxes := []struct {
		name string
		uid  string
	}{
		{"ImplicitVRLittleEndian", ImplicitVRLittleEndian},
		{"ExplicitVRLittleEndian", ExplicitVRLittleEndian},
		{"ExplicitVRBigEndian", ExplicitVRBigEndian},
		{"JPEGBaseline8Bit", JPEGBaseline8Bit},
		{"JPEGExtended12Bit", JPEGExtended12Bit},
		{"JPEGLossless", JPEGLossless},
		{"JPEGLosslessSV1", JPEGLosslessSV1},
	}

	for _, tc := range syntaxes {
		t.Run(tc.name, func(t *testing.T) {
			if tc.uid == "" {
				t.Errorf("%s is empty", tc.name)
			}
			if len(tc.uid) < 13 || tc.uid[:13] != "1.2.840.10008" {
				t.Errorf("%s = %s, should start with 1.2.840.10008", tc.name, tc.uid)
			}
		})
	}
}
