package httpapi

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"codeberg.org/hvlab/dischargectl/internal/engine"
	"codeberg.org/hvlab/dischargectl/internal/errors"
	"codeberg.org/hvlab/dischargectl/internal/logbook"
	"codeberg.org/hvlab/dischargectl/internal/profile"
)

type handler struct {
	eng   *engine.Engine
	store *profile.Store
	book  logbook.Reader
	mode  string
}

func (h *handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *handler) status(c *gin.Context) {
	c.JSON(http.StatusOK, h.statusPayload())
}

func (h *handler) samples(c *gin.Context) {
	limit, err := queryLimit(c)
	if err != nil {
		respondError(c, err)
		return
	}

	hist := h.eng.History()
	if limit > 0 && len(hist) > limit {
		hist = hist[len(hist)-limit:]
	}

	out := make([]SamplePayload, len(hist))
	for i, s := range hist {
		out[i] = samplePayload(s)
	}

	c.JSON(http.StatusOK, SamplesResponse{Samples: out})
}

func (h *handler) startDischarge(c *gin.Context) {
	var req DischargeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, errFactory.Wrap(errors.ErrValidationFailed, err).
			WithMessage("malformed discharge request"))
		return
	}

	p, err := h.resolveProfile(req)
	if err != nil {
		respondError(c, err)
		return
	}

	meta := engine.Metadata{
		Registration: req.Metadata.Registration,
		Operator:     req.Metadata.Operator,
		Location:     req.Metadata.Location,
		Comment:      req.Metadata.Comment,
		Mode:         h.mode,
	}

	if err := h.eng.Start(c.Request.Context(), p, meta); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, h.statusPayload())
}

func (h *handler) pauseDischarge(c *gin.Context) {
	h.control(c, h.eng.Pause)
}

func (h *handler) resumeDischarge(c *gin.Context) {
	h.control(c, h.eng.Resume)
}

func (h *handler) stopDischarge(c *gin.Context) {
	h.control(c, h.eng.Stop)
}

func (h *handler) reset(c *gin.Context) {
	h.control(c, h.eng.Reset)
}

// control runs a session command and reports the resulting status.
func (h *handler) control(c *gin.Context, cmd func() error) {
	if err := cmd(); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, h.statusPayload())
}

func (h *handler) listProfiles(c *gin.Context) {
	profiles, err := h.store.List()
	if err != nil {
		respondError(c, err)
		return
	}
	if profiles == nil {
		profiles = []profile.Profile{}
	}

	c.JSON(http.StatusOK, ProfilesResponse{Profiles: profiles})
}

func (h *handler) saveProfile(c *gin.Context) {
	var p profile.Profile
	if err := c.ShouldBindJSON(&p); err != nil {
		respondError(c, errFactory.Wrap(errors.ErrValidationFailed, err).
			WithMessage("malformed profile"))
		return
	}

	if err := h.store.Save(p); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, p)
}

func (h *handler) deleteProfile(c *gin.Context) {
	if err := h.store.Delete(c.Param("name")); err != nil {
		respondError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *handler) listSessions(c *gin.Context) {
	limit, err := queryLimit(c)
	if err != nil {
		respondError(c, err)
		return
	}

	recs, err := h.book.RecentSessions(c.Request.Context(), limit)
	if err != nil {
		respondError(c, err)
		return
	}

	out := make([]SessionPayload, len(recs))
	for i, rec := range recs {
		out[i] = sessionPayload(rec)
	}

	c.JSON(http.StatusOK, SessionsResponse{Sessions: out})
}

func (h *handler) getSession(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		respondError(c, errFactory.New(errors.ErrValidationFailed).
			WithMessage("session id must be an integer"))
		return
	}

	detail, err := h.book.SessionData(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}

	resp := SessionDetailPayload{
		SessionPayload: sessionPayload(detail.SessionRecord),
		Samples:        make([]SamplePayload, len(detail.Samples)),
	}
	for i, s := range detail.Samples {
		resp.Samples[i] = recordPayload(s)
	}

	c.JSON(http.StatusOK, resp)
}

// resolveProfile picks inline steps over a stored name. A bare name is
// looked up in the store; neither is a bad request.
func (h *handler) resolveProfile(req DischargeRequest) (profile.Profile, error) {
	if len(req.Steps) > 0 {
		name := req.Profile
		if name == "" {
			name = "ad hoc"
		}
		return profile.Profile{Name: name, Steps: req.Steps}, nil
	}

	if req.Profile == "" {
		return profile.Profile{}, errFactory.New(errors.ErrValidationFailed).
			WithMessage("request needs a profile name or inline steps")
	}

	return h.store.Get(req.Profile)
}

func (h *handler) statusPayload() StatusResponse {
	st := h.eng.Status()

	resp := StatusResponse{
		State:        st.State.String(),
		Connection:   st.Connection.String(),
		Profile:      st.ProfileName,
		StepIndex:    st.StepIndex,
		StepCount:    st.StepCount,
		SampleCount:  st.SampleCount,
		EnergyKWh:    st.CumulativeKWh,
		FaultMessage: st.FaultMessage,
	}

	if st.State != engine.Idle {
		resp.Metadata = &MetadataPayload{
			Registration: st.Metadata.Registration,
			Operator:     st.Metadata.Operator,
			Location:     st.Metadata.Location,
			Comment:      st.Metadata.Comment,
			Mode:         st.Metadata.Mode,
		}
	}
	if !st.StartedAt.IsZero() {
		t := st.StartedAt
		resp.StartedAt = &t
	}
	if !st.EndedAt.IsZero() {
		t := st.EndedAt
		resp.EndedAt = &t
	}
	if st.LastSample != nil {
		s := samplePayload(*st.LastSample)
		resp.LastSample = &s
	}

	return resp
}

// queryLimit parses the optional ?limit query. Zero means no limit.
func queryLimit(c *gin.Context) (int, error) {
	raw := c.Query("limit")
	if raw == "" {
		return 0, nil
	}

	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		return 0, errFactory.New(errors.ErrValidationFailed).
			WithMessage("limit must be a non-negative integer")
	}

	return limit, nil
}
