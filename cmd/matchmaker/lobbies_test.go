package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/jason-s-yu/matchmaker/internal/models"
	"github.com/stretchr/testify/assert"
)

func TestPrintLobbies(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	l := models.NewLobby("m1", models.Member{SessionToken: "s", PlayerID: "H"}, now.Add(-3*time.Minute).UnixMilli())
	l.IsReady = true
	l.Joiners = []models.Member{{SessionToken: "j", PlayerID: "P1"}}

	var buf bytes.Buffer
	printLobbies(&buf, []*models.Lobby{l}, 4, now)

	out := buf.String()
	assert.Contains(t, out, "JOINERS")
	assert.Contains(t, out, "m1")
	assert.Contains(t, out, "1/4")
	assert.Contains(t, out, "3 minutes ago")
}

func TestRootCommandHasSubcommands(t *testing.T) {
	cmd := newRootCommand()
	names := map[string]bool{}
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}
	assert.True(t, names["serve"])
	assert.True(t, names["lobbies"])
	assert.True(t, names["stats"])
}
