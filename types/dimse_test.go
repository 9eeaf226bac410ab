package types

import "testing"

func TestDIMSECommandConstants(t *testing.T) {
	tests := []struct {
		name     string
		constant uint16
		expected uint16
	}{
		{"C-STORE-RQ", CStoreRQ, 0x0001},
		{"C-STORE-RSP", CStoreRSP, 0x8001},
		{"C-FIND-RQ", CFindRQ, 0x0020},
		{"C-FIND-RSP", CFindRSP, 0x8020},
		{"C-ECHO-RQ", CEchoRQ, 0x0030},
		{"C-ECHO-RSP", CEchoRSP, 0x8030},
		{"C-CANCEL-RQ", CCancelRQ, 0x0FFF},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.constant != tt.expected {
				t.Errorf("%s = 0x%04x, want 0x%04x", tt.name, tt.constant, tt.expected)
			}
		})
	}
}

func TestDIMSEStatusConstants(t *testing.T) {
	tests := []struct {
		name     string
		constant uint16
		expected uint16
	}{
		{"Success", StatusSuccess, 0x0000},
		{"Cancel", StatusCancel, 0xFE00},
		{"Pending", StatusPending, 0xFF00},
		{"MissingAttributes", StatusMissingAttributes, 0xA900},
		{"Failure", StatusFailure, 0xC000},
		{"ProcessingFailure", StatusProcessingFailure, 0xC001},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.constant != tt.expected {
				t.Errorf("Status%s = 0x%04x, want 0x%04x", tt.name, tt.constant, tt.expected)
			}
		})
	}
}

func TestMessage_HasDataset(t *testing.T) {
	tests := []struct {
		name        string
		dataSetType uint16
		want        bool
	}{
		{"null marker", 0x0101, false},
		{"dataset present", 0x0000, true},
		{"nonstandard value", 0x0001, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := &Message{CommandDataSetType: tt.dataSetType}
			if got := msg.HasDataset(); got != tt.want {
				t.Errorf("HasDataset() with 0x%04x = %v, want %v", tt.dataSetType, got, tt.want)
			}
		})
	}
}

func TestResponseCommandFor(t *testing.T) {
	tests := []struct {
		name    string
		request uint16
		want    uint16
	}{
		{"C-STORE", CStoreRQ, CStoreRSP},
		{"C-FIND", CFindRQ, CFindRSP},
		{"C-ECHO", CEchoRQ, CEchoRSP},
		{"unknown command", 0x0042, 0x8042},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ResponseCommandFor(tt.request); got != tt.want {
				t.Errorf("ResponseCommandFor(0x%04x) = 0x%04x, want 0x%04x", tt.request, got, tt.want)
			}
		})
	}
}
