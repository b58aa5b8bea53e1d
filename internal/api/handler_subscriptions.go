package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"hostel-allocation-backend/internal/allocation"
	"hostel-allocation-backend/internal/model"
)

type putSubscriptionRequest struct {
	Endpoint          string   `json:"endpoint" binding:"required"`
	P256DH            string   `json:"p256dh" binding:"required"`
	Auth              string   `json:"auth" binding:"required"`
	SubscribedHostels []string `json:"subscribed_hostels"`
}

// PutSubscription creates or replaces a staff subscription and the set of
// hostels it watches for freed beds.
func (h *Handler) PutSubscription(c *gin.Context) {
	var req putSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	subscription := model.PushSubscription{
		Endpoint: req.Endpoint,
		P256DH:   req.P256DH,
		Auth:     req.Auth,
	}

	err := h.store.DB().WithContext(c.Request.Context()).Transaction(func(tx *gorm.DB) error {
		var hostels []*model.Hostel
		if len(req.SubscribedHostels) > 0 {
			if err := tx.Where("id IN ?", req.SubscribedHostels).Find(&hostels).Error; err != nil {
				return err
			}
			if len(hostels) != len(dedupe(req.SubscribedHostels)) {
				return fmt.Errorf("%w: unknown id in subscribed_hostels", allocation.ErrHostelNotFound)
			}
		}

		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "endpoint"}},
			DoUpdates: clause.AssignmentColumns([]string{"p256dh", "auth"}),
		}).Omit("Hostels").Create(&subscription).Error; err != nil {
			return err
		}

		return tx.Model(&subscription).Association("Hostels").Replace(&hostels)
	})
	if err != nil {
		h.fail(c, err)
		return
	}

	c.Status(http.StatusCreated)
}

type deleteSubscriptionRequest struct {
	Endpoint string `json:"endpoint" binding:"required"`
}

// DeleteSubscription handles the deletion of a subscription.
func (h *Handler) DeleteSubscription(c *gin.Context) {
	var req deleteSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	subscription := model.PushSubscription{Endpoint: req.Endpoint}
	if err := h.store.DB().WithContext(c.Request.Context()).Select("Hostels").Delete(&subscription).Error; err != nil {
		h.fail(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// GetSubscription returns the hostels a subscription watches.
func (h *Handler) GetSubscription(c *gin.Context) {
	endpoint := c.Query("endpoint")
	if endpoint == "" {
		badRequest(c, errors.New("endpoint is required"))
		return
	}

	var subscription model.PushSubscription
	err := h.store.DB().WithContext(c.Request.Context()).Preload("Hostels").First(&subscription, "endpoint = ?", endpoint).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		c.AbortWithStatusJSON(http.StatusNotFound, errorResponse{Error: "subscription not found", Code: "SUBSCRIPTION_NOT_FOUND"})
		return
	}
	if err != nil {
		h.fail(c, err)
		return
	}

	hostelIDs := make([]string, len(subscription.Hostels))
	for i, hostel := range subscription.Hostels {
		hostelIDs[i] = hostel.ID
	}

	c.JSON(http.StatusOK, gin.H{"subscribed_hostels": hostelIDs})
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := ids[:0:0]
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
