package www

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"repairedge/store"
	"repairedge/workflow"
)

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func writeStatusJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeStatusJSON(w, status, map[string]string{"error": msg})
}

// decodeRequest accepts a JSON body or form values.
func decodeRequest(r *http.Request, v interface{}, fields map[string]*string) error {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		return json.NewDecoder(r.Body).Decode(v)
	}
	if err := r.ParseForm(); err != nil {
		return err
	}
	for name, dst := range fields {
		*dst = r.FormValue(name)
	}
	return nil
}

type deviceStatus struct {
	Address   string      `json:"address"`
	Connected bool        `json:"connected"`
	Status    interface{} `json:"status,omitempty"`
	Error     string      `json:"error,omitempty"`
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func (h *Handlers) apiStatus(w http.ResponseWriter, r *http.Request) {
	ms := h.engine.MoverSession()
	cs := h.engine.ControllerSession()

	mover := deviceStatus{Address: ms.Addr(), Connected: ms.IsConnected(), Error: errText(ms.LastError())}
	if st := ms.LastStatus(); st != nil {
		mover.Status = st
	}
	backlog, err := h.engine.DB().GetOutboxBacklog()
	if err != nil {
		log.Printf("www: outbox backlog: %v", err)
	}
	writeJSON(w, map[string]interface{}{
		"station_id": h.engine.AppConfig().StationID,
		"workflow":   h.engine.Machine().Snapshot(),
		"outbox":     backlog,
		"mover":      mover,
		"controller": deviceStatus{
			Address:   cs.Addr(),
			Connected: cs.IsConnected(),
			Status:    cs.LastStatus(),
			Error:     errText(cs.LastError()),
		},
	})
}

func (h *Handlers) apiListTasks(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	tasks, err := h.engine.DB().ListTasks(limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if tasks == nil {
		tasks = []store.RepairTask{}
	}
	writeJSON(w, tasks)
}

// lookupTask writes a 404 and returns nil when the task does not exist.
func (h *Handlers) lookupTask(w http.ResponseWriter, r *http.Request) *store.RepairTask {
	task, err := h.engine.DB().GetTask(chi.URLParam(r, "id"))
	if store.IsNotFound(err) {
		writeError(w, http.StatusNotFound, "task not found")
		return nil
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return nil
	}
	return task
}

func (h *Handlers) apiGetTask(w http.ResponseWriter, r *http.Request) {
	task := h.lookupTask(w, r)
	if task == nil {
		return
	}
	items, err := h.engine.DB().ListWorkItems(task.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if items == nil {
		items = []store.WorkItem{}
	}
	writeJSON(w, map[string]interface{}{"task": task, "items": items})
}

func (h *Handlers) apiTaskProgress(w http.ResponseWriter, r *http.Request) {
	task := h.lookupTask(w, r)
	if task == nil {
		return
	}
	p, err := h.engine.DB().GetProgress(task.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, p)
}

func (h *Handlers) apiTaskLog(w http.ResponseWriter, r *http.Request) {
	task := h.lookupTask(w, r)
	if task == nil {
		return
	}
	entries, err := h.engine.DB().ListStageLog(task.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if entries == nil {
		entries = []store.StageLog{}
	}
	writeJSON(w, entries)
}

// apiStartTask queues a start request; the outcome arrives as a
// task-started or task-error event.
func (h *Handlers) apiStartTask(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Side string `json:"side"`
	}
	if err := decodeRequest(r, &req, map[string]*string{"side": &req.Side}); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Side == "" {
		writeError(w, http.StatusBadRequest, "side is required")
		return
	}
	if _, err := h.engine.AppConfig().SidePoints(req.Side); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if stage := h.engine.Machine().Stage(); stage != workflow.StageIdle {
		writeError(w, http.StatusConflict, "a task is already active in stage "+string(stage))
		return
	}
	h.engine.RequestTask(req.Side, "api:"+operatorFrom(r))
	writeStatusJSON(w, http.StatusAccepted, map[string]string{"status": "requested", "side": req.Side})
}

func (h *Handlers) apiAbortTask(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason"`
	}
	if err := decodeRequest(r, &req, map[string]*string{"reason": &req.Reason}); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Reason == "" {
		req.Reason = "aborted by operator"
	}
	if err := h.engine.AbortTask(req.Reason); err != nil {
		if errors.Is(err, workflow.ErrNoTask) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, map[string]string{"status": "aborted"})
}

// apiLogin creates the first operator account on first use, as the station
// ships without credentials.
func (h *Handlers) apiLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := decodeRequest(r, &req, map[string]*string{"username": &req.Username, "password": &req.Password}); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "username and password are required")
		return
	}

	db := h.engine.DB()
	exists, err := db.HasOperators()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	created := false
	if !exists {
		hash, err := hashPassword(req.Password)
		if errors.Is(err, errShortPassword) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		created, err = db.CreateFirstOperator(req.Username, hash)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to create operator")
			return
		}
		if created {
			log.Printf("www: created first operator %q", req.Username)
		}
	}
	// Lost the race for the first account: authenticate like any other login.
	if !created {
		op, err := db.GetOperator(req.Username)
		if err != nil || !checkPassword(req.Password, op.PasswordHash) {
			writeError(w, http.StatusUnauthorized, "invalid username or password")
			return
		}
	}
	if err := db.RecordOperatorLogin(req.Username); err != nil {
		log.Printf("www: record login for %q: %v", req.Username, err)
	}

	if err := h.sessions.setOperator(w, r, req.Username); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, map[string]string{"status": "ok", "username": req.Username})
}

func (h *Handlers) apiLogout(w http.ResponseWriter, r *http.Request) {
	h.sessions.clear(w, r)
	writeJSON(w, map[string]string{"status": "ok"})
}
