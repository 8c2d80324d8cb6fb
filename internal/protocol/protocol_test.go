package protocol

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		wantType MessageType
		wantCode string
		wantErr  error
	}{
		{
			name:     "code update",
			raw:      `{"type":"code_update","code":"x=1"}`,
			wantType: TypeCodeUpdate,
			wantCode: "x=1",
		},
		{
			name:     "code update with empty code",
			raw:      `{"type":"code_update","code":""}`,
			wantType: TypeCodeUpdate,
		},
		{
			name:     "cursor update with extra fields",
			raw:      `{"type":"cursor_update","line":3,"column":7,"userId":"u1"}`,
			wantType: TypeCursorUpdate,
		},
		{
			name:    "not json",
			raw:     `hello`,
			wantErr: ErrInvalidJSON,
		},
		{
			name:    "json array",
			raw:     `[1,2,3]`,
			wantErr: ErrInvalidJSON,
		},
		{
			name:    "unknown type",
			raw:     `{"type":"chat","text":"hi"}`,
			wantErr: ErrUnknownType,
		},
		{
			name:    "missing type",
			raw:     `{"code":"x"}`,
			wantErr: ErrUnknownType,
		},
		{
			name:    "outbound only type",
			raw:     `{"type":"init","code":"x"}`,
			wantErr: ErrUnknownType,
		},
		{
			name:    "code update without code",
			raw:     `{"type":"code_update"}`,
			wantErr: ErrMissingCode,
		},
		{
			name:    "code update with numeric code",
			raw:     `{"type":"code_update","code":42}`,
			wantErr: ErrMissingCode,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := Decode([]byte(tt.raw))
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Expected error %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if msg.Type != tt.wantType {
				t.Errorf("Expected type %q, got %q", tt.wantType, msg.Type)
			}
			if msg.Code != tt.wantCode {
				t.Errorf("Expected code %q, got %q", tt.wantCode, msg.Code)
			}
			if string(msg.Raw) != tt.raw {
				t.Errorf("Raw frame should be kept verbatim, got %s", msg.Raw)
			}
		})
	}
}

func TestOutboundMessages(t *testing.T) {
	var init struct {
		Type string `json:"type"`
		Code string `json:"code"`
	}
	if err := json.Unmarshal(Init("print(1)\n"), &init); err != nil {
		t.Fatalf("Failed to decode init: %v", err)
	}
	if init.Type != "init" || init.Code != "print(1)\n" {
		t.Errorf("Unexpected init message: %+v", init)
	}

	counts := map[string][]byte{
		"user_count_update": UserCount(3),
		"user_joined":       UserJoined(3),
		"user_left":         UserLeft(3),
	}
	for want, raw := range counts {
		var m struct {
			Type  string `json:"type"`
			Count int    `json:"count"`
		}
		if err := json.Unmarshal(raw, &m); err != nil {
			t.Fatalf("Failed to decode %s: %v", want, err)
		}
		if m.Type != want || m.Count != 3 {
			t.Errorf("Expected %s with count 3, got %+v", want, m)
		}
	}

	var e struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(Error(ErrInvalidJSON.Error()), &e); err != nil {
		t.Fatalf("Failed to decode error: %v", err)
	}
	if e.Type != "error" || e.Message != "Invalid JSON" {
		t.Errorf("Unexpected error message: %+v", e)
	}
}
