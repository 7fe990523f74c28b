// Package scrobbleRegistry encodes and decodes calls against the on-chain
// scrobble registry contract. The contract interface is fixed; the two
// metadata setters are optional per deployment and their presence is detected
// at runtime by the capability probe.
package scrobbleRegistry

import (
	"fmt"
	"strings"

	"github.com/echofm-labs/scrobble-engine-go/pkg/config"
	"github.com/echofm-labs/scrobble-engine-go/pkg/types"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/crypto"
)

const registryABIJSON = `[
	{"type":"function","name":"registerTrack","inputs":[{"name":"trackId","type":"bytes32"},{"name":"title","type":"string"},{"name":"artist","type":"string"},{"name":"album","type":"string"},{"name":"durationSec","type":"uint32"}],"outputs":[]},
	{"type":"function","name":"recordPlay","inputs":[{"name":"trackId","type":"bytes32"},{"name":"playedAt","type":"uint64"}],"outputs":[]},
	{"type":"function","name":"recordPlayBatch","inputs":[{"name":"trackIds","type":"bytes32[]"},{"name":"playedAts","type":"uint64[]"}],"outputs":[]},
	{"type":"function","name":"registerAndRecordPlay","inputs":[{"name":"trackId","type":"bytes32"},{"name":"title","type":"string"},{"name":"artist","type":"string"},{"name":"album","type":"string"},{"name":"durationSec","type":"uint32"},{"name":"playedAt","type":"uint64"}],"outputs":[]},
	{"type":"function","name":"isTrackRegistered","stateMutability":"view","inputs":[{"name":"trackId","type":"bytes32"}],"outputs":[{"name":"registered","type":"bool"}]},
	{"type":"function","name":"getTrack","stateMutability":"view","inputs":[{"name":"trackId","type":"bytes32"}],"outputs":[{"name":"title","type":"string"},{"name":"artist","type":"string"},{"name":"album","type":"string"},{"name":"durationSec","type":"uint32"},{"name":"registered","type":"bool"}]},
	{"type":"function","name":"setCoverArtRef","inputs":[{"name":"trackId","type":"bytes32"},{"name":"ref","type":"string"}],"outputs":[]},
	{"type":"function","name":"setLyricsRef","inputs":[{"name":"trackId","type":"bytes32"},{"name":"ref","type":"string"}],"outputs":[]}
]`

// Method names, used for selector lookups and capability probing.
const (
	MethodRegisterTrack         = "registerTrack"
	MethodRecordPlay            = "recordPlay"
	MethodRecordPlayBatch       = "recordPlayBatch"
	MethodRegisterAndRecordPlay = "registerAndRecordPlay"
	MethodIsTrackRegistered     = "isTrackRegistered"
	MethodGetTrack              = "getTrack"
	MethodSetCoverArtRef        = "setCoverArtRef"
	MethodSetLyricsRef          = "setLyricsRef"
)

// DecodeError reports malformed or undersized return data. A legitimately
// absent field (e.g. querying an unregistered track) is not a DecodeError.
type DecodeError struct {
	Method string
	Cause  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("failed to decode %s return data: %v", e.Method, e.Cause)
}

func (e *DecodeError) Unwrap() error {
	return e.Cause
}

// Encoder packs and unpacks registry calls.
type Encoder struct {
	abi abi.ABI
}

func NewEncoder() (*Encoder, error) {
	parsed, err := abi.JSON(strings.NewReader(registryABIJSON))
	if err != nil {
		return nil, fmt.Errorf("failed to parse registry ABI: %w", err)
	}
	return &Encoder{abi: parsed}, nil
}

// Selector returns the 4-byte function selector for a method.
func (e *Encoder) Selector(method string) ([4]byte, error) {
	m, ok := e.abi.Methods[method]
	if !ok {
		return [4]byte{}, fmt.Errorf("unknown registry method: %s", method)
	}
	var sel [4]byte
	copy(sel[:], m.ID)
	return sel, nil
}

// TrackID derives the registry key for a scrobble from its normalized
// metadata triple. Truncation happens before hashing so an oversized title
// maps to the same track as its truncated form.
func TrackID(s types.Scrobble) [32]byte {
	title := TruncateUTF8(s.Title, config.MaxTitleBytes)
	artist := TruncateUTF8(s.Artist, config.MaxArtistBytes)
	album := TruncateUTF8(s.Album, config.MaxAlbumBytes)

	var id [32]byte
	copy(id[:], crypto.Keccak256(
		[]byte(title), []byte{0}, []byte(artist), []byte{0}, []byte(album),
	))
	return id
}

// TruncateUTF8 caps s at max bytes without splitting a multi-byte rune.
// Truncation is deterministic: the same input always yields the same output.
func TruncateUTF8(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && s[cut]&0xC0 == 0x80 {
		cut--
	}
	return s[:cut]
}

func (e *Encoder) pack(method string, args ...interface{}) ([]byte, error) {
	data, err := e.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s call: %w", method, err)
	}
	return data, nil
}

// EncodeRegisterTrack encodes a registerTrack call with capped metadata.
func (e *Encoder) EncodeRegisterTrack(s types.Scrobble) ([]byte, error) {
	return e.pack(MethodRegisterTrack,
		TrackID(s),
		TruncateUTF8(s.Title, config.MaxTitleBytes),
		TruncateUTF8(s.Artist, config.MaxArtistBytes),
		TruncateUTF8(s.Album, config.MaxAlbumBytes),
		s.DurationSec,
	)
}

// EncodeRecordPlay encodes the plain play-recording call for an already
// registered track.
func (e *Encoder) EncodeRecordPlay(trackID [32]byte, playedAtSec uint64) ([]byte, error) {
	return e.pack(MethodRecordPlay, trackID, playedAtSec)
}

// EncodeRecordPlayBatch encodes one call recording several plays of already
// registered tracks.
func (e *Encoder) EncodeRecordPlayBatch(trackIDs [][32]byte, playedAtsSec []uint64) ([]byte, error) {
	if len(trackIDs) != len(playedAtsSec) {
		return nil, fmt.Errorf("mismatched batch lengths: %d track ids, %d timestamps", len(trackIDs), len(playedAtsSec))
	}
	return e.pack(MethodRecordPlayBatch, trackIDs, playedAtsSec)
}

// EncodeRegisterAndRecordPlay encodes the combined call used when the track is
// not yet registered.
func (e *Encoder) EncodeRegisterAndRecordPlay(s types.Scrobble) ([]byte, error) {
	return e.pack(MethodRegisterAndRecordPlay,
		TrackID(s),
		TruncateUTF8(s.Title, config.MaxTitleBytes),
		TruncateUTF8(s.Artist, config.MaxArtistBytes),
		TruncateUTF8(s.Album, config.MaxAlbumBytes),
		s.DurationSec,
		s.PlayedAtSec,
	)
}

// EncodeIsTrackRegistered encodes the registration-check call.
func (e *Encoder) EncodeIsTrackRegistered(trackID [32]byte) ([]byte, error) {
	return e.pack(MethodIsTrackRegistered, trackID)
}

// DecodeIsTrackRegistered decodes the registration-check result. Empty return
// data means the deployed contract legitimately omits the track, which reads
// as "not registered" rather than a decode failure.
func (e *Encoder) DecodeIsTrackRegistered(data []byte) (bool, error) {
	if len(data) == 0 {
		return false, nil
	}
	out, err := e.unpack(MethodIsTrackRegistered, data)
	if err != nil {
		return false, err
	}
	registered, ok := out[0].(bool)
	if !ok {
		return false, &DecodeError{Method: MethodIsTrackRegistered, Cause: fmt.Errorf("unexpected output type %T", out[0])}
	}
	return registered, nil
}

// Track is the decoded getTrack result.
type Track struct {
	Title       string
	Artist      string
	Album       string
	DurationSec uint32
	Registered  bool
}

// EncodeGetTrack encodes a getTrack call.
func (e *Encoder) EncodeGetTrack(trackID [32]byte) ([]byte, error) {
	return e.pack(MethodGetTrack, trackID)
}

// DecodeGetTrack decodes a getTrack result. Empty return data means the track
// is absent, reported via Registered=false.
func (e *Encoder) DecodeGetTrack(data []byte) (*Track, error) {
	if len(data) == 0 {
		return &Track{}, nil
	}
	out, err := e.unpack(MethodGetTrack, data)
	if err != nil {
		return nil, err
	}
	track := &Track{}
	var ok bool
	if track.Title, ok = out[0].(string); !ok {
		return nil, &DecodeError{Method: MethodGetTrack, Cause: fmt.Errorf("unexpected title type %T", out[0])}
	}
	if track.Artist, ok = out[1].(string); !ok {
		return nil, &DecodeError{Method: MethodGetTrack, Cause: fmt.Errorf("unexpected artist type %T", out[1])}
	}
	if track.Album, ok = out[2].(string); !ok {
		return nil, &DecodeError{Method: MethodGetTrack, Cause: fmt.Errorf("unexpected album type %T", out[2])}
	}
	if track.DurationSec, ok = out[3].(uint32); !ok {
		return nil, &DecodeError{Method: MethodGetTrack, Cause: fmt.Errorf("unexpected duration type %T", out[3])}
	}
	if track.Registered, ok = out[4].(bool); !ok {
		return nil, &DecodeError{Method: MethodGetTrack, Cause: fmt.Errorf("unexpected registered type %T", out[4])}
	}
	return track, nil
}

// EncodeSetCoverArtRef encodes the optional cover-art reference setter.
func (e *Encoder) EncodeSetCoverArtRef(trackID [32]byte, ref string) ([]byte, error) {
	return e.pack(MethodSetCoverArtRef, trackID, ref)
}

// EncodeSetLyricsRef encodes the optional lyrics reference setter.
func (e *Encoder) EncodeSetLyricsRef(trackID [32]byte, ref string) ([]byte, error) {
	return e.pack(MethodSetLyricsRef, trackID, ref)
}

func (e *Encoder) unpack(method string, data []byte) ([]interface{}, error) {
	m, ok := e.abi.Methods[method]
	if !ok {
		return nil, fmt.Errorf("unknown registry method: %s", method)
	}
	out, err := m.Outputs.Unpack(data)
	if err != nil {
		return nil, &DecodeError{Method: method, Cause: err}
	}
	return out, nil
}

// DecodeCallInput identifies a registry call from its calldata and unpacks the
// typed arguments. Used by the journal and tests to round-trip encodings.
func (e *Encoder) DecodeCallInput(data []byte) (string, []interface{}, error) {
	if len(data) < 4 {
		return "", nil, &DecodeError{Method: "unknown", Cause: fmt.Errorf("calldata shorter than a selector: %d bytes", len(data))}
	}
	m, err := e.abi.MethodById(data[:4])
	if err != nil {
		return "", nil, &DecodeError{Method: "unknown", Cause: err}
	}
	args, err := m.Inputs.Unpack(data[4:])
	if err != nil {
		return "", nil, &DecodeError{Method: m.Name, Cause: err}
	}
	return m.Name, args, nil
}
