package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/MrWong99/advisorsim/pkg/types"
)

func TestMeter(t *testing.T) {
	t.Parallel()

	tests := []struct {
		level float64
		full  int
	}{
		{0, 0},
		{0.5, 10},
		{1, 20},
		{1.7, 20},
		{-0.2, 0},
	}
	for _, tt := range tests {
		got := meter(tt.level)
		if n := strings.Count(got, "█"); n != tt.full {
			t.Errorf("meter(%v) = %q, %d full cells, want %d", tt.level, got, n, tt.full)
		}
		if n := strings.Count(got, "█") + strings.Count(got, "·"); n != meterWidth {
			t.Errorf("meter(%v) has %d cells", tt.level, n)
		}
	}
}

func TestConsole_TextMode(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	c := newConsole(&buf)
	c.SetBotName("Julie")

	c.Turn(types.NewTurn(types.SenderUser, "Bonjour"))
	c.Turn(types.NewTurn(types.SenderBot, "Bonjour, asseyez-vous."))

	if got := buf.String(); got != "Julie : Bonjour, asseyez-vous.\n" {
		t.Errorf("output = %q", got)
	}
}

func TestConsole_VoiceCaptions(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	c := newConsole(&buf)
	c.SetBotName("Marc")
	c.voice = func() bool { return true }

	first := types.NewTurn(types.SenderUser, "Bonjour")
	c.Turn(first)
	first.Text = "Bonjour Marc"
	c.Turn(first)
	c.Turn(types.NewTurn(types.SenderBot, "Salut."))
	c.Level(0)

	out := buf.String()
	if strings.Count(out, "Vous : Bonjour Marc\n") != 1 {
		t.Errorf("merged caption not committed once: %q", out)
	}
	if strings.Contains(out, "Vous : Bonjour\n") {
		t.Errorf("partial caption committed: %q", out)
	}
	if !strings.HasSuffix(out, "Marc : Salut.\n") {
		t.Errorf("last caption not committed on close: %q", out)
	}
}

func TestConsole_PrintfClearsStatusLine(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	c := newConsole(&buf)
	c.voice = func() bool { return true }

	c.Level(0.5)
	c.Printf("hello\n")
	if !strings.HasSuffix(buf.String(), "\r\033[Khello\n") {
		t.Errorf("output = %q", buf.String())
	}
}
