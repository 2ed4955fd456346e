package game

import (
	"compress/gzip"
	"encoding/gob"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrReplayNotFound is returned for sessions with neither a live nor an
// archived replay.
var ErrReplayNotFound = errors.New("replay not found")

// Frame is one accepted move and the position it produced.
type Frame struct {
	Ply       int       `json:"ply"`
	Side      Side      `json:"side"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Promotion PieceKind `json:"promotion,omitempty"`
	Position  string    `json:"position"`
	At        time.Time `json:"at"`
}

// Replay is the ordered list of frames of one session.
type Replay struct {
	SessionID string
	Frames    []*Frame
	mu        sync.RWMutex
}

// NewReplay creates an empty replay for a session.
func NewReplay(sessionID string) *Replay {
	return &Replay{
		SessionID: sessionID,
		Frames:    make([]*Frame, 0, 64),
	}
}

// Record appends a frame. Ply is assigned from the current length.
func (r *Replay) Record(frame *Frame) {
	r.mu.Lock()
	defer r.mu.Unlock()

	frame.Ply = len(r.Frames) + 1
	r.Frames = append(r.Frames, frame)
}

// Size returns the number of recorded frames.
func (r *Replay) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.Frames)
}

// FrameAt returns the frame at index or nil.
func (r *Replay) FrameAt(index int) *Frame {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if index >= 0 && index < len(r.Frames) {
		return r.Frames[index]
	}
	return nil
}

// Copy returns the frames by value, safe to read while recording goes on.
func (r *Replay) Copy() []Frame {
	r.mu.RLock()
	defer r.mu.RUnlock()

	frames := make([]Frame, len(r.Frames))
	for i, f := range r.Frames {
		frames[i] = *f
	}
	return frames
}

const replayFormat = 1

// archive is the on-disk form of a replay.
type archive struct {
	Format    int
	SessionID string
	SavedAt   time.Time
	Frames    []*Frame
}

func replayPath(directory, sessionID string) string {
	return filepath.Join(directory, sessionID+".replay")
}

// SaveToFile writes the replay as gzip-compressed gob to directory. The file
// appears under its final name only once fully written.
func (r *Replay) SaveToFile(directory string) error {
	r.mu.RLock()
	a := archive{
		Format:    replayFormat,
		SessionID: r.SessionID,
		SavedAt:   time.Now().UTC(),
		Frames:    r.Frames,
	}
	err := writeArchive(directory, &a)
	r.mu.RUnlock()
	return err
}

func writeArchive(directory string, a *archive) error {
	if err := os.MkdirAll(directory, 0o755); err != nil {
		return fmt.Errorf("create replay directory: %w", err)
	}

	tmp, err := os.CreateTemp(directory, a.SessionID+".*.tmp")
	if err != nil {
		return fmt.Errorf("create replay file: %w", err)
	}
	defer os.Remove(tmp.Name())

	zw := gzip.NewWriter(tmp)
	if err := gob.NewEncoder(zw).Encode(a); err != nil {
		tmp.Close()
		return fmt.Errorf("encode replay %s: %w", a.SessionID, err)
	}
	if err := zw.Close(); err != nil {
		tmp.Close()
		return fmt.Errorf("flush replay %s: %w", a.SessionID, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close replay %s: %w", a.SessionID, err)
	}
	return os.Rename(tmp.Name(), replayPath(directory, a.SessionID))
}

// LoadReplayFromFile reads a replay written by SaveToFile.
func LoadReplayFromFile(directory, sessionID string) (*Replay, error) {
	f, err := os.Open(replayPath(directory, sessionID))
	if err != nil {
		return nil, fmt.Errorf("open replay: %w", err)
	}
	defer f.Close()

	zr, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("read replay %s: %w", sessionID, err)
	}
	defer zr.Close()

	var a archive
	if err := gob.NewDecoder(zr).Decode(&a); err != nil {
		return nil, fmt.Errorf("decode replay %s: %w", sessionID, err)
	}
	if a.Format != replayFormat {
		return nil, fmt.Errorf("unsupported replay format %d", a.Format)
	}

	replay := NewReplay(a.SessionID)
	replay.Frames = append(replay.Frames, a.Frames...)
	return replay, nil
}

// ReplayRecorder tracks the replays of live sessions. With an empty save
// directory finished replays are discarded instead of archived.
type ReplayRecorder struct {
	logger  *zap.Logger
	mu      sync.RWMutex
	replays map[string]*Replay
	saveDir string
}

// NewReplayRecorder creates a recorder archiving into saveDir.
func NewReplayRecorder(logger *zap.Logger, saveDir string) *ReplayRecorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReplayRecorder{
		logger:  logger,
		replays: make(map[string]*Replay),
		saveDir: saveDir,
	}
}

// StartRecording creates and returns the replay for a session.
func (rr *ReplayRecorder) StartRecording(sessionID string) *Replay {
	replay := NewReplay(sessionID)

	rr.mu.Lock()
	rr.replays[sessionID] = replay
	rr.mu.Unlock()

	rr.logger.Debug("recording replay", zap.String("session_id", sessionID))
	return replay
}

// GetReplay returns the live replay of a session.
func (rr *ReplayRecorder) GetReplay(sessionID string) (*Replay, bool) {
	rr.mu.RLock()
	defer rr.mu.RUnlock()

	replay, ok := rr.replays[sessionID]
	return replay, ok
}

// Finish removes the session's replay from memory and archives it when a
// save directory is configured and at least one move was played.
func (rr *ReplayRecorder) Finish(sessionID string) error {
	rr.mu.Lock()
	replay, ok := rr.replays[sessionID]
	delete(rr.replays, sessionID)
	rr.mu.Unlock()

	if !ok {
		return fmt.Errorf("no replay recorded for session %s", sessionID)
	}
	plies := replay.Size()
	if rr.saveDir == "" || plies == 0 {
		rr.logger.Debug("replay discarded", zap.String("session_id", sessionID), zap.Int("plies", plies))
		return nil
	}

	if err := replay.SaveToFile(rr.saveDir); err != nil {
		return err
	}
	rr.logger.Info("replay archived",
		zap.String("session_id", sessionID),
		zap.Int("plies", plies),
		zap.String("dir", rr.saveDir),
	)
	return nil
}

// LoadReplay loads an archived replay. Ids that do not name a file inside
// the save directory are reported as not found.
func (rr *ReplayRecorder) LoadReplay(sessionID string) (*Replay, error) {
	if rr.saveDir == "" || !filepath.IsLocal(sessionID) || strings.ContainsAny(sessionID, `/\`) {
		return nil, fmt.Errorf("%w: %q", ErrReplayNotFound, sessionID)
	}
	replay, err := LoadReplayFromFile(rr.saveDir, sessionID)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrReplayNotFound, sessionID)
	}
	if err != nil {
		return nil, err
	}

	rr.logger.Debug("replay loaded", zap.String("session_id", sessionID), zap.Int("plies", replay.Size()))
	return replay, nil
}

// Active returns the number of sessions being recorded.
func (rr *ReplayRecorder) Active() int {
	rr.mu.RLock()
	defer rr.mu.RUnlock()

	return len(rr.replays)
}
