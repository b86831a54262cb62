package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/fkusi/sensorhub/internal/adapter"
	"github.com/fkusi/sensorhub/internal/manager"
	"github.com/fkusi/sensorhub/internal/sensor"
)

type registerBody struct {
	Name           string `json:"name"`
	Location       string `json:"location"`
	Address        string `json:"address"`
	DeviceID       string `json:"device_id"`
	MeterID        string `json:"meter_id"`
	UploadToken    string `json:"upload_token"`
	PowerMode      string `json:"power_mode"`
	PollingMinutes int    `json:"polling_minutes"`
}

func (s *server) registerSensor(w http.ResponseWriter, r *http.Request) {
	var body registerBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeBadRequest(w, "malformed JSON body")
		return
	}

	input := manager.RegisterInput{
		Type:        sensor.Type(chi.URLParam(r, "type")),
		Name:        body.Name,
		Location:    body.Location,
		Address:     body.Address,
		DeviceID:    body.DeviceID,
		MeterID:     body.MeterID,
		UploadToken: body.UploadToken,
		PowerMode:   sensor.PowerMode(body.PowerMode),
	}
	if body.PollingMinutes != 0 {
		if !sensor.ValidFrequency(body.PollingMinutes) {
			writeBadRequest(w, "polling_minutes out of range")
			return
		}
		input.PollingInterval = sensor.QuantizeInterval(body.PollingMinutes)
	}

	registered, err := s.manager.Register(input)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, registered.View())
}

func (s *server) listSensors(w http.ResponseWriter, r *http.Request) {
	t := sensor.Type(r.URL.Query().Get("type"))
	if t != "" && !t.IsValid() {
		writeBadRequest(w, "unknown sensor type")
		return
	}

	sensors := s.manager.List(t)
	views := make([]sensor.View, 0, len(sensors))
	for _, sn := range sensors {
		views = append(views, sn.View())
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *server) getSensor(w http.ResponseWriter, r *http.Request) {
	sn, err := s.manager.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sn.View())
}

func (s *server) updateSensor(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name     string `json:"name"`
		Location string `json:"location"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeBadRequest(w, "malformed JSON body")
		return
	}

	sn, err := s.manager.UpdateFields(chi.URLParam(r, "id"), body.Name, body.Location)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sn.View())
}

func (s *server) deleteSensor(w http.ResponseWriter, r *http.Request) {
	if err := s.manager.Delete(chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type statusBody struct {
	Status       sensor.Status `json:"status"`
	StatusReason string        `json:"status_reason,omitempty"`
	IsActive     bool          `json:"is_active"`
	LastActive   *time.Time    `json:"last_active,omitempty"`
	LastError    string        `json:"last_error,omitempty"`
}

func (s *server) sensorStatus(w http.ResponseWriter, r *http.Request) {
	sn, err := s.manager.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statusBody{
		Status:       sn.Status,
		StatusReason: sn.StatusReason,
		IsActive:     sn.IsActive,
		LastActive:   sn.LastActive,
		LastError:    sn.LastError,
	})
}

func (s *server) turnOn(w http.ResponseWriter, r *http.Request) {
	sn, err := s.manager.TurnOn(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sn.View())
}

func (s *server) turnOff(w http.ResponseWriter, r *http.Request) {
	sn, err := s.manager.TurnOff(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sn.View())
}

type fetchNowBody struct {
	Outcome adapter.Outcome `json:"outcome"`
	Sensor  sensor.View     `json:"sensor"`
}

func (s *server) fetchNow(w http.ResponseWriter, r *http.Request) {
	outcome, sn, err := s.manager.FetchNow(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, fetchNowBody{Outcome: outcome, Sensor: sn.View()})
}

func (s *server) setPowerMode(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Mode string `json:"mode"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeBadRequest(w, "malformed JSON body")
		return
	}

	sn, err := s.manager.SetPowerMode(r.Context(), chi.URLParam(r, "id"), sensor.PowerMode(body.Mode))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sn.View())
}

func (s *server) setFrequency(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Minutes int `json:"minutes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeBadRequest(w, "malformed JSON body")
		return
	}

	sn, err := s.manager.SetFrequency(chi.URLParam(r, "id"), body.Minutes)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sn.View())
}

func (s *server) setRelayMode(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Mode string `json:"mode"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeBadRequest(w, "malformed JSON body")
		return
	}

	sn, err := s.manager.SetRelayMode(r.Context(), chi.URLParam(r, "id"), body.Mode)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sn.View())
}

func (s *server) setThresholds(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Cutoff    float64 `json:"cutoff"`
		Reconnect float64 `json:"reconnect"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeBadRequest(w, "malformed JSON body")
		return
	}

	sn, err := s.manager.SetThresholds(r.Context(), chi.URLParam(r, "id"), body.Cutoff, body.Reconnect)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sn.View())
}

func (s *server) calibrate(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Target float64 `json:"target"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeBadRequest(w, "malformed JSON body")
		return
	}

	sn, err := s.manager.Calibrate(r.Context(), chi.URLParam(r, "id"), body.Target)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sn.View())
}

func (s *server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
