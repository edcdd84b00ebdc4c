package gamepad

import (
	"errors"
	"testing"
	"time"
)

func TestParseReport(t *testing.T) {
	t.Parallel()
	now := time.Now()

	tests := []struct {
		name string
		raw  []byte
		want State
	}{
		{
			name: "centered sticks no buttons",
			raw:  []byte{0x00, 0x00, 128, 128, 128, 128, 0, 0},
			want: State{Connected: true, LastUpdate: now},
		},
		{
			name: "full deflection and full triggers",
			raw:  []byte{0x00, 0x00, 0, 255, 255, 0, 255, 255},
			want: State{
				LX: -32768, LY: 32512, RX: 32512, RY: -32768,
				LT: 1023, RT: 1023,
				Connected: true, LastUpdate: now,
			},
		},
		{
			name: "a and select pressed",
			raw:  []byte{0x41, 0x00, 128, 128, 128, 128, 0, 0},
			want: State{Buttons: ButtonA | ButtonSelect, Connected: true, LastUpdate: now},
		},
		{
			name: "high byte of mask is significant",
			raw:  []byte{0x02, 0x01, 128, 128, 128, 128, 0, 0},
			want: State{Buttons: 0x0102, Connected: true, LastUpdate: now},
		},
		{
			name: "half trigger",
			raw:  []byte{0x00, 0x00, 128, 128, 128, 128, 128, 64},
			want: State{LT: 514, RT: 257, Connected: true, LastUpdate: now},
		},
		{
			name: "trailing vendor bytes ignored",
			raw:  []byte{0x08, 0x00, 128, 128, 128, 128, 0, 0, 0xde, 0xad},
			want: State{Buttons: ButtonY, Connected: true, LastUpdate: now},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseReport(tt.raw, now)
			if err != nil {
				t.Fatalf("ParseReport: %v", err)
			}
			if got != tt.want {
				t.Fatalf("ParseReport = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestParseReportTooShort(t *testing.T) {
	t.Parallel()
	for _, n := range []int{0, 1, 7} {
		_, err := ParseReport(make([]byte, n), time.Now())
		if !errors.Is(err, ErrShortReport) {
			t.Fatalf("ParseReport(%d bytes) = %v, want ErrShortReport", n, err)
		}
	}
}

func TestWidenAxisEndpoints(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw  byte
		want int16
	}{
		{0, -32768},
		{64, -16384},
		{128, 0},
		{192, 16384},
		{255, 32512},
	}
	for _, tt := range tests {
		if got := widenAxis(tt.raw); got != tt.want {
			t.Fatalf("widenAxis(%d) = %d, want %d", tt.raw, got, tt.want)
		}
	}
}

func TestApplyDeadzone(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		in     State
		dz     int16
		wantLX int16
		wantLY int16
	}{
		{name: "inside zone zeroed", in: State{LX: 500, LY: -499}, dz: 1000, wantLX: 0, wantLY: 0},
		{name: "on threshold kept", in: State{LX: 1000, LY: -1000}, dz: 1000, wantLX: 1000, wantLY: -1000},
		{name: "outside zone kept", in: State{LX: 20000, LY: -20000}, dz: 1000, wantLX: 20000, wantLY: -20000},
		{name: "zero deadzone is passthrough", in: State{LX: 1, LY: -1}, dz: 0, wantLX: 1, wantLY: -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := tt.in
			st.ApplyDeadzone(tt.dz)
			if st.LX != tt.wantLX || st.LY != tt.wantLY {
				t.Fatalf("after deadzone %d: LX=%d LY=%d, want LX=%d LY=%d",
					tt.dz, st.LX, st.LY, tt.wantLX, tt.wantLY)
			}
		})
	}
}

func TestPressed(t *testing.T) {
	t.Parallel()
	st := State{Buttons: ButtonA | ButtonB}
	if !st.Pressed(ButtonA) {
		t.Fatal("ButtonA should read pressed")
	}
	if !st.Pressed(ButtonA | ButtonB) {
		t.Fatal("combined mask should read pressed")
	}
	if st.Pressed(ButtonA | ButtonY) {
		t.Fatal("mask with an up button should not read pressed")
	}
}
