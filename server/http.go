package server

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/andrew-d/easel/protocol"
)

// maxBodyBytes bounds request bodies, frames included.
const maxBodyBytes = 32 << 20

func readBody(w http.ResponseWriter, r *http.Request) (string, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, err.Error(), http.StatusRequestEntityTooLarge)
		return "", false
	}
	return string(body), true
}

// handleUpdate answers a poll with the batch after cursor, waiting until it
// exists.
func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	cursor, err := strconv.ParseInt(r.FormValue("cursor"), 10, 64)
	if err != nil || cursor < 0 {
		http.Error(w, "invalid cursor", http.StatusBadRequest)
		return
	}

	wt := s.hub.subscribe(topicBatches)
	defer s.hub.unsubscribe(wt)

	ctx := r.Context()
	for {
		body, ok, err := s.store.batch(ctx, cursor+1)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.Error("failed to read batch", "idx", cursor+1, "err", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		if ok {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			io.WriteString(w, body)
			return
		}

		select {
		case <-wt.signal:
		case <-ctx.Done():
			return
		}
	}
}

// parseObjects splits an add request into objects. Entries without an id
// prefix get a generated one.
func (s *Server) parseObjects(body string) ([]Object, error) {
	var objs []Object
	for seg := range strings.SplitSeq(body, protocol.MessageSep) {
		seg = strings.TrimSpace(seg)
		if seg == "" {
			continue
		}
		id, descriptor := protocol.SplitID(seg)
		if _, err := protocol.Parse(descriptor); err != nil {
			return nil, fmt.Errorf("object %q: %w", id, err)
		}
		if id == "" {
			id = s.newID()
		}
		objs = append(objs, Object{ID: id, Descriptor: descriptor})
	}
	return objs, nil
}

func (s *Server) handleAdd(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	objs, err := s.parseObjects(body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if len(objs) == 0 {
		http.Error(w, "no objects", http.StatusBadRequest)
		return
	}

	idx, err := s.store.addObjects(r.Context(), objs)
	if err != nil {
		s.logger.Error("failed to add objects", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	s.appended(r.Context(), idx)
	s.logger.Debug("added objects", "count", len(objs), "batch", idx)

	// Reply with the ids so callers can remove what they added.
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	for _, o := range objs {
		fmt.Fprintln(w, o.ID)
	}
}

func (s *Server) handleRemove(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	var ids []string
	for id := range strings.SplitSeq(body, protocol.IDSep) {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}

	idx, missing, err := s.store.removeObjects(r.Context(), ids)
	if err != nil {
		s.logger.Error("failed to remove objects", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	for _, id := range missing {
		s.logger.Warn("object to remove not found", "id", id)
	}
	if idx != 0 {
		s.appended(r.Context(), idx)
	}
	if len(missing) == len(ids) && len(ids) > 0 {
		http.Error(w, "no such objects", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleFrame appends a whole-surface frame. Raw image bytes are stored as a
// data URL so that batch bodies stay text.
func (s *Server) handleFrame(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	if body == "" {
		http.Error(w, "empty frame", http.StatusBadRequest)
		return
	}
	if !strings.HasPrefix(body, "data:") {
		mime := r.Header.Get("Content-Type")
		if !strings.HasPrefix(mime, "image/") {
			mime = http.DetectContentType([]byte(body))
		}
		body = "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString([]byte(body))
	}

	idx, err := s.store.appendBatch(r.Context(), body)
	if err != nil {
		s.logger.Error("failed to store frame", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	s.appended(r.Context(), idx)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleObjects(w http.ResponseWriter, r *http.Request) {
	objs, err := s.store.objects(r.Context())
	if err != nil {
		s.logger.Error("failed to list objects", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	parts := make([]string, len(objs))
	for i, o := range objs {
		parts[i] = o.ID + " " + protocol.IDSep + " " + o.Descriptor
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	io.WriteString(w, strings.Join(parts, " "+protocol.MessageSep+" "))
}

func (s *Server) handleImage(w http.ResponseWriter, r *http.Request) {
	if s.images == nil {
		http.NotFound(w, r)
		return
	}
	name := r.PathValue("path")
	f, err := s.images.Open(name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			http.NotFound(w, r)
			return
		}
		s.logger.Warn("refused image request", "path", name, "err", err)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil || fi.IsDir() {
		http.NotFound(w, r)
		return
	}
	http.ServeContent(w, r, fi.Name(), fi.ModTime(), f)
}

func formInts(r *http.Request, keys ...string) ([]int, error) {
	out := make([]int, len(keys))
	for i, k := range keys {
		v, err := strconv.Atoi(r.FormValue(k))
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", k, err)
		}
		out[i] = v
	}
	return out, nil
}

func (s *Server) handleMouseMove(w http.ResponseWriter, r *http.Request) {
	v, err := formInts(r, "x", "y")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.mouse.push(formatMove(v[0], v[1]))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMouseClick(w http.ResponseWriter, r *http.Request) {
	v, err := formInts(r, "button")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.mouse.push(formatClick(v[0]))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleKey(w http.ResponseWriter, r *http.Request) {
	key := r.FormValue("Key")
	if key == "" {
		http.Error(w, "missing Key", http.StatusBadRequest)
		return
	}
	mods := make([]bool, 3)
	for i, k := range []string{"shiftKey", "ctrlKey", "altKey"} {
		b, err := strconv.ParseBool(r.FormValue(k))
		if err != nil {
			http.Error(w, fmt.Sprintf("invalid %s", k), http.StatusBadRequest)
			return
		}
		mods[i] = b
	}
	s.keys.push(formatKey(key, mods[0], mods[1], mods[2]))

	if s.config.EchoKeys && utf8.RuneCountInString(key) == 1 && strings.TrimSpace(key) != "" {
		s.echoKey(r, key)
	}
	w.WriteHeader(http.StatusNoContent)
}

// echoKey clears the corner of the surface and draws key there.
func (s *Server) echoKey(r *http.Request, key string) {
	body := protocol.Join([]protocol.Command{
		{Mode: protocol.Delete, Kind: protocol.Rect, Payload: "0 0 300 300"},
		{Mode: protocol.Draw, Kind: protocol.Text, Payload: key + " 100 100 48px serif"},
	})
	idx, err := s.store.appendBatch(r.Context(), body)
	if err != nil {
		s.logger.Error("failed to store key echo", "err", err)
		return
	}
	s.appended(r.Context(), idx)
}

// handleReport long-polls q and returns every queued event joined by ";--;".
func (s *Server) handleReport(q *eventQueue) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		evs, err := q.wait(r.Context())
		if err != nil {
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		io.WriteString(w, strings.Join(evs, ";--;"))
	}
}
