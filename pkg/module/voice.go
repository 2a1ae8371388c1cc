package module

import "sync"

// Allocation is the voice chosen for a note-on. When Stolen is set the voice
// was playing StolenNote, which must be released first.
type Allocation struct {
	Voice      int
	Stolen     bool
	StolenNote uint8
}

type voiceSlot struct {
	active bool
	note   uint8
	at     float64
	seq    uint64
}

// VoiceAllocator assigns notes to voices deterministically:
//
//  1. a note that is already sounding keeps its voice;
//  2. otherwise the first idle voice, scanning round-robin from the voice
//     after the last one allocated;
//  3. otherwise the voice whose note started earliest is stolen.
//
// Two allocators of equal size fed the same events make the same choices,
// which keeps parallel poly modules (oscillator and envelope) voice-aligned.
type VoiceAllocator struct {
	mu    sync.Mutex
	slots []voiceSlot
	last  int
	seq   uint64
}

// NewVoiceAllocator creates an allocator for n voices.
func NewVoiceAllocator(n int) *VoiceAllocator {
	return &VoiceAllocator{slots: make([]voiceSlot, max(n, 1)), last: -1}
}

// NoteOn allocates a voice for note starting at time at.
func (a *VoiceAllocator) NoteOn(note uint8, at float64) Allocation {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.seq++

	for i, s := range a.slots {
		if s.active && s.note == note {
			a.slots[i] = voiceSlot{active: true, note: note, at: at, seq: a.seq}
			a.last = i
			return Allocation{Voice: i}
		}
	}

	n := len(a.slots)
	for j := 1; j <= n; j++ {
		i := (a.last + j) % n
		if !a.slots[i].active {
			a.slots[i] = voiceSlot{active: true, note: note, at: at, seq: a.seq}
			a.last = i
			return Allocation{Voice: i}
		}
	}

	victim := 0
	for i, s := range a.slots {
		v := a.slots[victim]
		if s.at < v.at || (s.at == v.at && s.seq < v.seq) {
			victim = i
		}
	}
	stolen := a.slots[victim].note
	a.slots[victim] = voiceSlot{active: true, note: note, at: at, seq: a.seq}
	a.last = victim
	return Allocation{Voice: victim, Stolen: true, StolenNote: stolen}
}

// NoteOff frees the voice playing note.
func (a *VoiceAllocator) NoteOff(note uint8) (voice int, ok bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i, s := range a.slots {
		if s.active && s.note == note {
			a.slots[i].active = false
			return i, true
		}
	}
	return -1, false
}

// Resize changes the voice count. Notes on removed voices are forgotten.
func (a *VoiceAllocator) Resize(n int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	n = max(n, 1)
	if n < len(a.slots) {
		a.slots = a.slots[:n]
	} else {
		a.slots = append(a.slots, make([]voiceSlot, n-len(a.slots))...)
	}
	a.last = min(a.last, n-1)
}

// Active returns the note held by each busy voice.
func (a *VoiceAllocator) Active() map[int]uint8 {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[int]uint8)
	for i, s := range a.slots {
		if s.active {
			out[i] = s.note
		}
	}
	return out
}
