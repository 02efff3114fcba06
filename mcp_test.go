package pgmanager

import (
	"math"
	"net/netip"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/mark3labs/mcp-go/mcp"
)

func TestRequestLength_WithArguments(t *testing.T) {
	t.Parallel()
	req := mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      "execute",
			Arguments: map[string]any{"sql": "SELECT 1"},
		},
	}
	length := requestLength(req)
	// {"sql":"SELECT 1"} = 18 bytes
	if length != 18 {
		t.Fatalf("expected request length 18, got %d", length)
	}
}

func TestRequestLength_NoArguments(t *testing.T) {
	t.Parallel()
	req := mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name: "commit",
		},
	}
	length := requestLength(req)
	if length != 0 {
		t.Fatalf("expected request length 0 for no arguments, got %d", length)
	}
}

func TestResultLength_TextResult(t *testing.T) {
	t.Parallel()
	result := mcp.NewToolResultText(`{"columns":["id"],"rows":[]}`)
	length := resultLength(result)
	if length != 28 {
		t.Fatalf("expected result length 28, got %d", length)
	}
}

func TestResultLength_ErrorResult(t *testing.T) {
	t.Parallel()
	result := mcp.NewToolResultError("something failed")
	length := resultLength(result)
	if length != 16 {
		t.Fatalf("expected result length 16, got %d", length)
	}
}

func TestResultLength_NilResult(t *testing.T) {
	t.Parallel()
	length := resultLength(nil)
	if length != 0 {
		t.Fatalf("expected result length 0 for nil, got %d", length)
	}
}

func TestConvertValue(t *testing.T) {
	t.Parallel()

	ts := time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)
	tests := []struct {
		name string
		in   interface{}
		want interface{}
	}{
		{"nil", nil, nil},
		{"int passthrough", int64(42), int64(42)},
		{"string passthrough", "hello", "hello"},
		{"time", ts, "2024-03-01T12:30:00Z"},
		{"NaN", math.NaN(), "NaN"},
		{"+Inf", math.Inf(1), "Infinity"},
		{"-Inf float32", float32(math.Inf(-1)), "-Infinity"},
		{"finite float", 1.5, 1.5},
		{"inet", netip.MustParsePrefix("10.0.0.0/8"), "10.0.0.0/8"},
		{"uuid", [16]byte{0x12, 0x34, 0x56, 0x78, 0x9a, 0xbc, 0xde, 0xf0, 0x12, 0x34, 0x56, 0x78, 0x9a, 0xbc, 0xde, 0xf0}, "12345678-9abc-def0-1234-56789abcdef0"},
		{"bytea", []byte("hi"), "aGk="},
		{"time of day", pgtype.Time{Microseconds: (1*3600 + 2*60 + 3) * 1_000_000, Valid: true}, "01:02:03"},
		{"null time of day", pgtype.Time{}, nil},
		{"interval", pgtype.Interval{Months: 14, Days: 3, Valid: true}, "1 year(s) 2 mon(s) 3 day(s)"},
		{"zero interval", pgtype.Interval{Valid: true}, "0"},
		{"numeric NaN", pgtype.Numeric{NaN: true, Valid: true}, "NaN"},
		{"null numeric", pgtype.Numeric{}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := convertValue(tt.in)
			if got != tt.want {
				t.Errorf("convertValue(%v) = %#v, want %#v", tt.in, got, tt.want)
			}
		})
	}
}

func TestConvertRows_Nested(t *testing.T) {
	t.Parallel()

	rows := [][]interface{}{
		{[]interface{}{math.NaN(), "a"}, map[string]interface{}{"b": []byte{0x01}}},
	}
	got := convertRows(rows)

	arr := got[0][0].([]interface{})
	if arr[0] != "NaN" || arr[1] != "a" {
		t.Errorf("unexpected array conversion: %#v", arr)
	}
	obj := got[0][1].(map[string]interface{})
	if obj["b"] != "AQ==" {
		t.Errorf("unexpected map conversion: %#v", obj)
	}
	// original untouched
	if _, ok := rows[0][1].(map[string]interface{})["b"].([]byte); !ok {
		t.Error("convertRows mutated its input")
	}
}

func TestConvertRows_Nil(t *testing.T) {
	t.Parallel()
	if got := convertRows(nil); got != nil {
		t.Fatalf("expected nil, got %v", got)
	}
}
