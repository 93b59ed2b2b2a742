package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Stagehand/internal/domain"
	"github.com/dkeye/Stagehand/internal/store"
)

type metadataHandlers struct {
	store  store.Store
	notify store.ChangeFunc
}

func campaignParam(c *gin.Context) (domain.CampaignID, bool) {
	cid := domain.CampaignID(c.Param("cid"))
	if err := cid.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return "", false
	}
	return cid, true
}

func writeStoreError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, store.ErrInvalid), errors.Is(err, domain.ErrCampaignIDInvalid):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		log.Error().Err(err).Str("module", "adapters.http").Str("path", c.FullPath()).Msg("store failure")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func (h *metadataHandlers) listPlaylists(c *gin.Context) {
	cid, ok := campaignParam(c)
	if !ok {
		return
	}
	list, err := h.store.ListPlaylists(c.Request.Context(), cid)
	if err != nil {
		writeStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"playlists": list})
}

func (h *metadataHandlers) getPlaylist(c *gin.Context) {
	cid, ok := campaignParam(c)
	if !ok {
		return
	}
	pl, err := h.store.GetPlaylist(c.Request.Context(), cid, c.Param("id"))
	if err != nil {
		writeStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, pl)
}

func (h *metadataHandlers) putPlaylist(c *gin.Context) {
	cid, ok := campaignParam(c)
	if !ok {
		return
	}
	var pl domain.Playlist
	if err := c.ShouldBindJSON(&pl); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing or invalid playlist"})
		return
	}
	pl.ID = c.Param("id")
	pl.CampaignID = cid
	if pl.Kind == "" {
		pl.Kind = domain.PlaylistSequential
	}
	if err := h.store.PutPlaylist(c.Request.Context(), pl); err != nil {
		writeStoreError(c, err)
		return
	}
	h.notify(cid, store.KindPlaylists)
	c.JSON(http.StatusOK, pl)
}

func (h *metadataHandlers) deletePlaylist(c *gin.Context) {
	cid, ok := campaignParam(c)
	if !ok {
		return
	}
	if err := h.store.DeletePlaylist(c.Request.Context(), cid, c.Param("id")); err != nil {
		writeStoreError(c, err)
		return
	}
	h.notify(cid, store.KindPlaylists)
	c.Status(http.StatusNoContent)
}

func (h *metadataHandlers) listAssets(c *gin.Context) {
	cid, ok := campaignParam(c)
	if !ok {
		return
	}
	list, err := h.store.ListAssets(c.Request.Context(), cid)
	if err != nil {
		writeStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"assets": list})
}

func (h *metadataHandlers) putAsset(c *gin.Context) {
	cid, ok := campaignParam(c)
	if !ok {
		return
	}
	var a domain.Asset
	if err := c.ShouldBindJSON(&a); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing or invalid asset"})
		return
	}
	a.ID = c.Param("id")
	a.CampaignID = cid
	if err := h.store.PutAsset(c.Request.Context(), a); err != nil {
		writeStoreError(c, err)
		return
	}
	h.notify(cid, store.KindAssets)
	c.JSON(http.StatusOK, a)
}

func (h *metadataHandlers) deleteAsset(c *gin.Context) {
	cid, ok := campaignParam(c)
	if !ok {
		return
	}
	if err := h.store.DeleteAsset(c.Request.Context(), cid, c.Param("id")); err != nil {
		writeStoreError(c, err)
		return
	}
	h.notify(cid, store.KindAssets)
	c.Status(http.StatusNoContent)
}
