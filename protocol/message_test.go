package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func allRequestKinds() []RequestKind {
	return []RequestKind{
		ReqPing, ReqResetDevice, ReqStartApp,
		ReqDevInfoBootloaderVersion, ReqDevInfoBootloaderCRC, ReqDevInfoVID,
		ReqDevInfoPID, ReqDevInfoPRD, ReqDevInfoUID,
		ReqFlashInfoStartAddr, ReqFlashInfoPageSize, ReqFlashInfoNumPages,
		ReqAppInfoPageIdx, ReqAppInfoCRCCalc, ReqAppInfoCRCStrd,
		ReqFlashReadWord,
		ReqPageBufferClear, ReqPageBufferReadWord, ReqPageBufferWriteWord,
		ReqPageBufferCalcCRC, ReqPageBufferWriteToFlash,
		ReqFlashWriteErasePage, ReqFlashWriteAppCRC,
	}
}

func allResponseKinds() []ResponseKind {
	return []ResponseKind{
		RespNone, RespAck, RespAckPageFull, RespErrPageFull, RespErrInvldArg,
		RespErrCRCInvld, RespErrNotSupported, RespUnknownReq, RespErr,
	}
}

func TestRequestKindWireCodes(t *testing.T) {
	want := map[RequestKind]uint16{
		ReqPing: 0x0001, ReqResetDevice: 0x0011, ReqStartApp: 0x0012,
		ReqDevInfoBootloaderVersion: 0x0101, ReqDevInfoBootloaderCRC: 0x0102,
		ReqDevInfoVID: 0x0103, ReqDevInfoPID: 0x0104, ReqDevInfoPRD: 0x0105,
		ReqDevInfoUID: 0x0106,
		ReqFlashInfoStartAddr: 0x0201, ReqFlashInfoPageSize: 0x0202,
		ReqFlashInfoNumPages: 0x0203,
		ReqAppInfoPageIdx: 0x0301, ReqAppInfoCRCCalc: 0x0302, ReqAppInfoCRCStrd: 0x0303,
		ReqFlashReadWord: 0x0401,
		ReqPageBufferClear: 0x1001, ReqPageBufferReadWord: 0x1002,
		ReqPageBufferWriteWord: 0x1003, ReqPageBufferCalcCRC: 0x1004,
		ReqPageBufferWriteToFlash: 0x1005,
		ReqFlashWriteErasePage: 0x1101, ReqFlashWriteAppCRC: 0x1102,
	}
	for kind, code := range want {
		assert.Equal(t, code, kind.ToU16())
	}
}

func TestRequestKindRoundTrip(t *testing.T) {
	for _, kind := range allRequestKinds() {
		got, err := RequestKindFromU16(kind.ToU16())
		require.NoError(t, err)
		assert.Equal(t, kind, got)
	}
}

func TestRequestKindFromU16Unknown(t *testing.T) {
	_, err := RequestKindFromU16(0x9999)
	require.Error(t, err)
	var decodeErr *DecodeError
	require.ErrorAs(t, err, &decodeErr)
	assert.Equal(t, "request", decodeErr.Field)
}

func TestResponseKindWireCodes(t *testing.T) {
	want := map[ResponseKind]uint8{
		RespNone: 0x00, RespAck: 0x01, RespErr: 0xFE, RespUnknownReq: 0xFD,
		RespErrNotSupported: 0xFC, RespErrCRCInvld: 0xFB, RespAckPageFull: 0xFA,
		RespErrPageFull: 0xF9, RespErrInvldArg: 0xF8,
	}
	for kind, code := range want {
		assert.Equal(t, code, kind.ToU8())
	}
}

func TestResponseKindRoundTrip(t *testing.T) {
	for _, kind := range allResponseKinds() {
		got, err := ResponseKindFromU8(kind.ToU8())
		require.NoError(t, err)
		assert.Equal(t, kind, got)
	}
}

func TestResponseKindFromU8Unknown(t *testing.T) {
	_, err := ResponseKindFromU8(0x77)
	require.Error(t, err)
}

func TestWordPayloadRoundTrip(t *testing.T) {
	words := []uint32{0, 1, 0xFFFFFFFF, 0x01020304, 0xDEADBEEF}
	for _, w := range words {
		assert.Equal(t, w, WordFromPayload(PayloadFromWord(w)))
	}
}

func TestWordIsLSBFirst(t *testing.T) {
	p := Payload{0x04, 0x03, 0x02, 0x01}
	assert.Equal(t, uint32(0x01020304), WordFromPayload(p))
}

func TestMessageRawRoundTrip(t *testing.T) {
	for _, reqKind := range allRequestKinds() {
		for _, respKind := range allResponseKinds() {
			m := Message{
				Request:  reqKind,
				Response: respKind,
				PacketID: 0x42,
				Payload:  PayloadFromWord(0x0A0B0C0D),
			}
			raw := ToRaw(m)
			got, err := FromRaw(raw)
			require.NoError(t, err)
			assert.Equal(t, m, got)
		}
	}
}

func TestToRawLayout(t *testing.T) {
	m := NewRequest(ReqFlashWriteErasePage, 7, PayloadFromWord(2))
	raw := ToRaw(m)
	assert.Equal(t, [8]byte{0x01, 0x11, 0x00, 0x07, 0x02, 0x00, 0x00, 0x00}, raw)
}

func TestFromRawUnknownRequest(t *testing.T) {
	raw := [8]byte{0xFF, 0xFF, 0x00, 0x00, 0, 0, 0, 0}
	_, err := FromRaw(raw)
	require.Error(t, err)
}

func TestFromRawUnknownResponse(t *testing.T) {
	raw := [8]byte{0x01, 0x00, 0x77, 0x00, 0, 0, 0, 0}
	_, err := FromRaw(raw)
	require.Error(t, err)
}

func TestIsResponseOkAck(t *testing.T) {
	req := NewStdRequest(ReqPing)
	resp := Message{Request: ReqPing, Response: RespAck}
	assert.NoError(t, IsResponseOk(req, resp))
}

func TestIsResponseOkWrongRequest(t *testing.T) {
	req := NewStdRequest(ReqPing)
	resp := Message{Request: ReqResetDevice, Response: RespAck}
	err := IsResponseOk(req, resp)
	require.Error(t, err)
	var mismatch *MismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, ReqPing, mismatch.WantRequest)
	assert.Equal(t, ReqResetDevice, mismatch.GotRequest)
}

func TestIsResponseOkNotAck(t *testing.T) {
	req := NewStdRequest(ReqPing)
	resp := Message{Request: ReqPing, Response: RespErr}
	err := IsResponseOk(req, resp)
	require.Error(t, err)
}
