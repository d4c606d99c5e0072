// Package protocol replicates a match between one host and its guests over
// a best-effort transport. Only the host runs the game machine; guests send
// intents up and render the full snapshots that come back down.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/crazyremix/remix-server/internal/game"
)

// MessageType tags a wire message.
type MessageType string

const (
	TypeJoinRequest      MessageType = "JOIN_REQUEST"
	TypePlayerListUpdate MessageType = "PLAYER_LIST_UPDATE"
	TypeGameStart        MessageType = "GAME_START"
	TypeAction           MessageType = "ACTION"
	TypeStateUpdate      MessageType = "STATE_UPDATE"
)

var (
	// ErrJoinTimeout is returned when the host never answered a join.
	ErrJoinTimeout = errors.New("protocol: no answer from host")
	// ErrNotHost marks an ACTION that reached a peer which does not run the
	// match.
	ErrNotHost = errors.New("protocol: receiver is not the host")

	errMalformed = errors.New("protocol: malformed message")
)

// Message is the single wire envelope. Which fields are set depends on Type:
//
//	JOIN_REQUEST        Name
//	PLAYER_LIST_UPDATE  Players, NewPlayerID, NewPlayerPeer
//	GAME_START          Snapshot, Players
//	ACTION              Intent, Seq (the snapshot the intent was chosen on)
//	STATE_UPDATE        Snapshot
type Message struct {
	Type          MessageType    `json:"type"`
	Name          string         `json:"name,omitempty"`
	Players       []string       `json:"players,omitempty"`
	NewPlayerID   int            `json:"newPlayerId,omitempty"`
	NewPlayerPeer string         `json:"newPlayerPeer,omitempty"`
	Snapshot      *game.Snapshot `json:"snapshot,omitempty"`
	Intent        *game.Intent   `json:"intent,omitempty"`
	Seq           uint64         `json:"seq,omitempty"`
}

func joinRequest(name string) Message {
	return Message{Type: TypeJoinRequest, Name: name}
}

func playerListUpdate(players []string, newID int, newPeer string) Message {
	return Message{Type: TypePlayerListUpdate, Players: players, NewPlayerID: newID, NewPlayerPeer: newPeer}
}

func gameStart(snap game.Snapshot, players []string) Message {
	return Message{Type: TypeGameStart, Snapshot: &snap, Players: players}
}

func action(in game.Intent, seq uint64) Message {
	return Message{Type: TypeAction, Intent: &in, Seq: seq}
}

func stateUpdate(snap game.Snapshot) Message {
	return Message{Type: TypeStateUpdate, Snapshot: &snap}
}

// Encode marshals m for Transport.Send.
func Encode(m Message) ([]byte, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", m.Type, err)
	}
	return raw, nil
}

// Decode parses and checks that the fields Type needs are present.
func Decode(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("%w: %v", errMalformed, err)
	}
	switch m.Type {
	case TypeJoinRequest:
	case TypePlayerListUpdate:
		if len(m.Players) == 0 {
			return Message{}, fmt.Errorf("%w: %s without players", errMalformed, m.Type)
		}
	case TypeGameStart, TypeStateUpdate:
		if m.Snapshot == nil {
			return Message{}, fmt.Errorf("%w: %s without snapshot", errMalformed, m.Type)
		}
	case TypeAction:
		if m.Intent == nil {
			return Message{}, fmt.Errorf("%w: %s without intent", errMalformed, m.Type)
		}
	default:
		return Message{}, fmt.Errorf("%w: unknown type %q", errMalformed, m.Type)
	}
	return m, nil
}
