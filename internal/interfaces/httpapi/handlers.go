package httpapi

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/tidwall/gjson"

	"xoracle/internal/domain"
	"xoracle/internal/domain/model"
)

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "length": s.deps.Ledger.Length()})
}

func (s *Server) handleGetPrice(c *gin.Context) {
	e, err := s.deps.Ledger.LatestPrice(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, PriceResponse{
		Price:        strconv.FormatUint(e.Price, 10),
		Formatted:    model.FormatPrice(e.Price, s.opts.PriceDecimals),
		RecordedAt:   e.RecordedAt,
		HeartbeatSec: s.deps.Ledger.Heartbeat(),
	})
}

func (s *Server) handleGetPriceRange(c *gin.Context) {
	start, err := queryUint(c, "start", 0)
	if err != nil {
		writeError(c, err)
		return
	}
	end, err := queryUint(c, "end", s.deps.Ledger.Length())
	if err != nil {
		writeError(c, err)
		return
	}

	entries, err := s.deps.Ledger.GetPriceRange(c.Request.Context(), start, end)
	if err != nil {
		writeError(c, err)
		return
	}
	out := RangeResponse{Start: start, End: end, Entries: make([]EntryResponse, 0, len(entries))}
	for i, e := range entries {
		out.Entries = append(out.Entries, s.entry(start+uint64(i), e))
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleLength(c *gin.Context) {
	c.JSON(http.StatusOK, LengthResponse{Length: s.deps.Ledger.Length()})
}

func (s *Server) handleGetHeartbeat(c *gin.Context) {
	c.JSON(http.StatusOK, HeartbeatResponse{HeartbeatSec: s.deps.Ledger.Heartbeat()})
}

func (s *Server) handleStatus(c *gin.Context) {
	snap := s.deps.Ledger.Snapshot()
	out := StatusResponse{
		Length:       snap.Length,
		HeartbeatSec: snap.HeartbeatSec,
		AgeSec:       snap.AgeSec,
		Stale:        snap.Stale,
	}
	if snap.HasLatest {
		e := s.entry(snap.Length-1, snap.Latest)
		out.Latest = &e
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleRecordPrice(c *gin.Context) {
	price, err := bodyUint(c, "price")
	if err != nil {
		writeError(c, err)
		return
	}
	n, err := s.deps.Ledger.RecordPrice(c.Request.Context(), callerFrom(c), price)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, LengthResponse{Length: n})
}

func (s *Server) handleSetHeartbeat(c *gin.Context) {
	seconds, err := bodyUint(c, "seconds")
	if err != nil {
		writeError(c, err)
		return
	}
	if err := s.deps.Ledger.SetHeartbeat(c.Request.Context(), callerFrom(c), seconds); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, HeartbeatResponse{HeartbeatSec: seconds})
}

func (s *Server) handleTransferOwnership(c *gin.Context) {
	var req TransferOwnershipRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	err := s.deps.Ledger.TransferUpstreamOwnership(c.Request.Context(), callerFrom(c), model.Identity(req.NewOwner))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"new_owner": req.NewOwner})
}

func (s *Server) handleListMembers(c *gin.Context) {
	role, ok := model.ParseRole(c.Param("role"))
	if !ok {
		writeError(c, domain.ErrInvalidRole)
		return
	}
	c.JSON(http.StatusOK, s.members(role))
}

func (s *Server) handleGrant(c *gin.Context) {
	s.changeRole(c, s.deps.Roles.Grant)
}

func (s *Server) handleRevoke(c *gin.Context) {
	s.changeRole(c, s.deps.Roles.Revoke)
}

type roleChange func(ctx context.Context, caller model.Identity, role model.Role, member model.Identity) error

func (s *Server) changeRole(c *gin.Context, apply roleChange) {
	role, ok := model.ParseRole(c.Param("role"))
	if !ok {
		writeError(c, domain.ErrInvalidRole)
		return
	}
	if err := apply(c.Request.Context(), callerFrom(c), role, model.Identity(c.Param("member"))); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.members(role))
}

func (s *Server) members(role model.Role) MembersResponse {
	ids := s.deps.Roles.Members(role)
	out := MembersResponse{Role: string(role), Members: make([]string, 0, len(ids))}
	for _, id := range ids {
		out.Members = append(out.Members, id.String())
	}
	return out
}

func (s *Server) entry(index uint64, e model.PriceEntry) EntryResponse {
	return EntryResponse{
		Index:      index,
		Price:      strconv.FormatUint(e.Price, 10),
		Formatted:  model.FormatPrice(e.Price, s.opts.PriceDecimals),
		RecordedAt: e.RecordedAt,
	}
}

func queryUint(c *gin.Context, name string, def uint64) (uint64, error) {
	raw, ok := c.GetQuery(name)
	if !ok || raw == "" {
		return def, nil
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be a non-negative integer", errBadRequest, name)
	}
	return v, nil
}

// bodyUint 接受 JSON 数字或十进制字符串
func bodyUint(c *gin.Context, field string) (uint64, error) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<16))
	if err != nil {
		return 0, fmt.Errorf("%w: read body: %v", errBadRequest, err)
	}
	if !gjson.ValidBytes(body) {
		return 0, fmt.Errorf("%w: body is not valid JSON", errBadRequest)
	}
	v := gjson.GetBytes(body, field)
	if v.Type != gjson.Number && v.Type != gjson.String {
		return 0, fmt.Errorf("%w: %s is required", errBadRequest, field)
	}
	n, err := strconv.ParseUint(v.String(), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an unsigned integer", errBadRequest, field)
	}
	return n, nil
}
