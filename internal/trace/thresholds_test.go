package trace

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCommandClass(t *testing.T) {
	tests := []struct {
		command string
		want    string
	}{
		{"", ClassNav},
		{"/start", ClassNav},
		{"cb:menu_settings", ClassNav},
		{"msg:?how does billing work", ClassConsultation},
		{"/feed", ClassHeavy},
		{"/feed page 2", ClassHeavy},
		{"/assessment", ClassHeavy},
		{"msg:hello there", ClassNav},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, CommandClass(tt.command), "command %q", tt.command)
	}
}

func TestLatencyStatus(t *testing.T) {
	tests := []struct {
		totalMs int
		class   string
		want    string
	}{
		{800, ClassNav, StatusGreen},
		{1000, ClassNav, StatusGreen},
		{2500, ClassNav, StatusYellow},
		{3500, ClassNav, StatusRed},
		{7000, ClassHeavy, StatusYellow},
		{15000, ClassConsultation, StatusYellow},
		{25000, ClassConsultation, StatusRed},
		{2500, "no-such-class", StatusYellow},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, LatencyStatus(tt.totalMs, tt.class), "%d ms in %s", tt.totalMs, tt.class)
	}
}

func TestIsRed(t *testing.T) {
	require.True(t, IsRed("/feed", 9000))
	require.False(t, IsRed("/feed", 5000))
	require.True(t, IsRed("cb:next", 3500))
	require.False(t, IsRed("msg:?why", 15000))
}
