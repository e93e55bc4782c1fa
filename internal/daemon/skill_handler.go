package daemon

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/hkondo/kbreplay/internal/events"
	"github.com/hkondo/kbreplay/internal/skill"
	"github.com/hkondo/kbreplay/internal/uds"
)

// ReorderParams carry the full desired skill ordering.
type ReorderParams struct {
	IDs []string `json:"ids"`
}

type deleteParams struct {
	ID string `json:"id"`
}

// skillError maps store errors onto UDS error codes.
func skillError(err error) *uds.Response {
	switch {
	case errors.Is(err, skill.ErrNotFound):
		return uds.ErrorResponse(uds.ErrCodeNotFound, err.Error())
	case strings.Contains(err.Error(), "missing required field"),
		strings.Contains(err.Error(), "reorder lists"):
		return uds.ErrorResponse(uds.ErrCodeValidation, err.Error())
	default:
		return uds.ErrorResponse(uds.ErrCodeInternal, err.Error())
	}
}

func (d *Daemon) publishSkillChanged(action, id string) {
	d.bus.Publish(events.EventSkillChanged, map[string]interface{}{
		"action":   action,
		"skill_id": id,
	})
}

func (d *Daemon) handleSkillList(req *uds.Request) *uds.Response {
	skills, err := d.skills.List()
	if err != nil {
		return skillError(err)
	}
	return uds.SuccessResponse(map[string]interface{}{
		"skills": skills,
		"count":  len(skills),
	})
}

func (d *Daemon) handleSkillCreate(req *uds.Request) *uds.Response {
	var sk skill.Skill
	if err := json.Unmarshal(req.Params, &sk); err != nil {
		return uds.ErrorResponse(uds.ErrCodeValidation, fmt.Sprintf("invalid skill params: %v", err))
	}
	created, err := d.skills.Create(sk)
	if err != nil {
		return skillError(err)
	}
	d.log(LogLevelInfo, "skill %s created name=%q", created.ID, created.Name)
	d.publishSkillChanged("create", created.ID)
	return uds.SuccessResponse(created)
}

func (d *Daemon) handleSkillUpdate(req *uds.Request) *uds.Response {
	var sk skill.Skill
	if err := json.Unmarshal(req.Params, &sk); err != nil {
		return uds.ErrorResponse(uds.ErrCodeValidation, fmt.Sprintf("invalid skill params: %v", err))
	}
	updated, err := d.skills.Update(sk)
	if err != nil {
		return skillError(err)
	}
	d.log(LogLevelInfo, "skill %s updated", updated.ID)
	d.publishSkillChanged("update", updated.ID)
	return uds.SuccessResponse(updated)
}

func (d *Daemon) handleSkillDelete(req *uds.Request) *uds.Response {
	var params deleteParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return uds.ErrorResponse(uds.ErrCodeValidation, fmt.Sprintf("invalid delete params: %v", err))
	}
	if params.ID == "" {
		return uds.ErrorResponse(uds.ErrCodeValidation, "skill id is required")
	}
	if err := d.skills.Delete(params.ID); err != nil {
		return skillError(err)
	}
	d.log(LogLevelInfo, "skill %s deleted", params.ID)
	d.publishSkillChanged("delete", params.ID)
	return uds.SuccessResponse(map[string]string{"id": params.ID, "status": "deleted"})
}

func (d *Daemon) handleSkillReorder(req *uds.Request) *uds.Response {
	var params ReorderParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return uds.ErrorResponse(uds.ErrCodeValidation, fmt.Sprintf("invalid reorder params: %v", err))
	}
	if len(params.IDs) == 0 {
		return uds.ErrorResponse(uds.ErrCodeValidation, "ids list is required")
	}
	if err := d.skills.Reorder(params.IDs); err != nil {
		return skillError(err)
	}
	d.log(LogLevelInfo, "skills reordered count=%d", len(params.IDs))
	d.publishSkillChanged("reorder", "")
	return uds.SuccessResponse(map[string]interface{}{"status": "reordered", "count": len(params.IDs)})
}
