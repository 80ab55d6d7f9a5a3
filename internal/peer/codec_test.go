// Copyright 2025 bitjungle - Rune Mathisen. All rights reserved.
// Use of this source code is governed by the MIT license
// that can be found in the LICENSE file.
// The author respectfully requests that it not be used for
// military, warfare, or surveillance applications.

package peer

import (
	"bytes"
	"strings"
	"testing"

	"github.com/bitjungle/msnm-sensor/pkg/model"
	"github.com/stretchr/testify/require"
)

func TestWriteReadPacketRoundTrip(t *testing.T) {
	pkt := model.Packet{
		Header: model.Header{ID: 7, SID: "leaf-1", TS: "20260101_000000", Type: model.PacketData},
		Data:   &model.DataBody{Q: 1.5, D: 2.75},
	}

	var buf bytes.Buffer
	require.NoError(t, WritePacket(&buf, pkt))

	got, err := ReadPacket(&buf, 0)
	require.NoError(t, err)
	require.Equal(t, pkt, got)
}

func TestReadPacketRejectsOversizedFrame(t *testing.T) {
	pkt := model.Packet{
		Header: model.Header{SID: strings.Repeat("x", 100), Type: model.PacketData},
		Data:   &model.DataBody{Q: 1, D: 2},
	}
	var buf bytes.Buffer
	require.NoError(t, WritePacket(&buf, pkt))

	_, err := ReadPacket(&buf, 10) // cap far below the encoded body
	require.Error(t, err)
}

func TestReadPacketRejectsGarbage(t *testing.T) {
	_, err := ReadPacket(bytes.NewReader([]byte{0x00, 0x00}), 0)
	require.Error(t, err)
}

func TestReadPacketRejectsMalformedJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WritePacket(&buf, model.Packet{Header: model.Header{Type: model.PacketResponse}, Response: &model.ResponseBody{Resp: "OK"}}))
	raw := buf.Bytes()
	// Corrupt the JSON body while keeping the length prefix honest.
	raw[4] = '!'

	_, err := ReadPacket(bytes.NewReader(raw), 0)
	require.Error(t, err)
}
