package debugsrv

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/joshuapare/pageheap/pageheap"
	"github.com/joshuapare/pageheap/pageheap/central"
)

type statsResponse struct {
	Heap      pageheap.Stats          `json:"heap"`
	Allocator *central.AllocatorStats `json:"allocator,omitempty"`
	Classes   []central.CentralStats  `json:"classes,omitempty"`
}

type spansQuery struct {
	State string `form:"state" binding:"omitempty,oneof=free in-use"`
}

type allocSpanRequest struct {
	Pages     uint64 `json:"pages" binding:"required,min=1,maxpages"`
	SizeClass int32  `json:"size_class" binding:"smallclass"`
}

type mallocRequest struct {
	Size uint64 `json:"size" binding:"required,min=1"`
}

type objectResponse struct {
	Addr string            `json:"addr"`
	Span pageheap.SpanInfo `json:"span"`
}

func errorJSON(c *gin.Context, code int, err error) {
	c.AbortWithStatusJSON(code, gin.H{"error": err.Error()})
}

// allocStatus maps an allocation error to an HTTP status.
func allocStatus(err error) int {
	if errors.Is(err, pageheap.ErrNoSpace) {
		return http.StatusInsufficientStorage
	}
	return http.StatusInternalServerError
}

func (s *Server) getStats(c *gin.Context) {
	resp := statsResponse{Heap: s.heap.Stats()}
	if s.alloc != nil {
		st := s.alloc.Stats()
		resp.Allocator = &st
		resp.Classes = s.alloc.CentralStats()
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) getVerify(c *gin.Context) {
	err := s.heap.Verify()
	if err == nil {
		c.JSON(http.StatusOK, gin.H{"ok": true})
		return
	}

	var msgs []string
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		for _, e := range joined.Unwrap() {
			msgs = append(msgs, e.Error())
		}
	} else {
		msgs = append(msgs, err.Error())
	}
	c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "errors": msgs})
}

func (s *Server) listSpans(c *gin.Context) {
	var q spansQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		errorJSON(c, http.StatusBadRequest, err)
		return
	}
	out := []pageheap.SpanInfo{}
	s.heap.Walk(func(si pageheap.SpanInfo) bool {
		if q.State == "" || si.State.String() == q.State {
			out = append(out, si)
		}
		return true
	})
	c.JSON(http.StatusOK, out)
}

func (s *Server) allocSpan(c *gin.Context) {
	var req allocSpanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorJSON(c, http.StatusBadRequest, err)
		return
	}
	sp, err := s.heap.Alloc(uintptr(req.Pages), req.SizeClass)
	if err != nil {
		errorJSON(c, allocStatus(err), err)
		return
	}

	s.mu.Lock()
	s.spans[sp.Start()] = sp
	s.mu.Unlock()
	c.JSON(http.StatusCreated, sp.Info())
}

func (s *Server) freeSpan(c *gin.Context) {
	start, err := strconv.ParseUint(c.Param("start"), 0, 64)
	if err != nil {
		errorJSON(c, http.StatusBadRequest, fmt.Errorf("bad page number: %w", err))
		return
	}

	s.mu.Lock()
	sp := s.spans[pageheap.PageID(start)]
	delete(s.spans, pageheap.PageID(start))
	s.mu.Unlock()
	if sp == nil {
		errorJSON(c, http.StatusNotFound, fmt.Errorf("no span allocated through this server starts at page %#x", start))
		return
	}

	var acct uintptr
	if sp.SizeClass() == 0 {
		acct = sp.Bytes()
	}
	s.heap.Free(sp, acct)
	c.Status(http.StatusNoContent)
}

func (s *Server) lookup(c *gin.Context) {
	page, err := strconv.ParseUint(c.Param("page"), 0, 64)
	if err != nil {
		errorJSON(c, http.StatusBadRequest, fmt.Errorf("bad page number: %w", err))
		return
	}
	sp := s.heap.LookupMaybe(pageheap.PageID(page))
	if sp == nil {
		errorJSON(c, http.StatusNotFound, fmt.Errorf("page %#x is not in an in-use span", page))
		return
	}
	c.JSON(http.StatusOK, sp.Info())
}

func (s *Server) listClasses(c *gin.Context) {
	c.JSON(http.StatusOK, s.alloc.Table().Classes())
}

func (s *Server) malloc(c *gin.Context) {
	var req mallocRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorJSON(c, http.StatusBadRequest, err)
		return
	}
	v, err := s.alloc.Malloc(uintptr(req.Size))
	if err != nil {
		errorJSON(c, allocStatus(err), err)
		return
	}
	resp := objectResponse{Addr: fmt.Sprintf("%#x", v)}
	if sp := s.heap.LookupMaybe(s.heap.PageOf(v)); sp != nil {
		resp.Span = sp.Info()
	}
	c.JSON(http.StatusCreated, resp)
}

func (s *Server) freeObject(c *gin.Context) {
	v, err := strconv.ParseUint(c.Param("addr"), 0, 64)
	if err != nil {
		errorJSON(c, http.StatusBadRequest, fmt.Errorf("bad address: %w", err))
		return
	}
	if err := s.alloc.Free(uintptr(v)); err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, central.ErrInvalidFree) {
			code = http.StatusNotFound
		}
		errorJSON(c, code, err)
		return
	}
	c.Status(http.StatusNoContent)
}
