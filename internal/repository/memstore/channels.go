package memstore

import (
	"context"
	"time"

	"github.com/set-night/chanpay/internal/domain"
	"github.com/set-night/chanpay/internal/repository"
)

func (v *view) CreateChannel(ctx context.Context, arg domain.Channel) (domain.Channel, error) {
	unlock, err := v.enter("CreateChannel")
	defer unlock()
	if err != nil {
		return domain.Channel{}, err
	}
	for id, c := range v.d.channels {
		if c.TelegramChatID != arg.TelegramChatID {
			continue
		}
		if c.MerchantID != arg.MerchantID {
			return domain.Channel{}, repository.ErrNoRows
		}
		c.Title, c.Username, c.IsActive = arg.Title, arg.Username, true
		v.d.channels[id] = c
		return c, nil
	}
	arg.ID = v.d.nextID()
	arg.IsActive = true
	arg.CreatedAt = time.Now()
	v.d.channels[arg.ID] = arg
	return arg, nil
}

func (v *view) GetChannel(ctx context.Context, id int64) (domain.Channel, error) {
	unlock, err := v.enter("GetChannel")
	defer unlock()
	if err != nil {
		return domain.Channel{}, err
	}
	c, ok := v.d.channels[id]
	if !ok {
		return domain.Channel{}, notFound("channel", id)
	}
	return c, nil
}

func (v *view) GetChannelByChatID(ctx context.Context, chatID int64) (domain.Channel, error) {
	unlock, err := v.enter("GetChannelByChatID")
	defer unlock()
	if err != nil {
		return domain.Channel{}, err
	}
	for _, c := range v.d.channels {
		if c.TelegramChatID == chatID {
			return c, nil
		}
	}
	return domain.Channel{}, notFound("channel chat", chatID)
}

func (v *view) ListMerchantChannels(ctx context.Context, merchantID int64) ([]domain.Channel, error) {
	unlock, err := v.enter("ListMerchantChannels")
	defer unlock()
	if err != nil {
		return nil, err
	}
	var out []domain.Channel
	for _, c := range sortedValues(v.d.channels) {
		if c.MerchantID == merchantID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (v *view) updateChannel(method string, id int64, fn func(*domain.Channel)) error {
	unlock, err := v.enter(method)
	defer unlock()
	if err != nil {
		return err
	}
	c, ok := v.d.channels[id]
	if !ok {
		return notFound("channel", id)
	}
	fn(&c)
	v.d.channels[id] = c
	return nil
}

func (v *view) UpdateChannelDescription(ctx context.Context, id int64, description string) error {
	return v.updateChannel("UpdateChannelDescription", id, func(c *domain.Channel) { c.Description = description })
}

func (v *view) SetChannelPopular(ctx context.Context, id int64, until time.Time) error {
	return v.updateChannel("SetChannelPopular", id, func(c *domain.Channel) {
		c.IsPopular, c.PopularExpiresAt = true, &until
	})
}

func (v *view) SetChannelFeatured(ctx context.Context, id int64, until time.Time) error {
	return v.updateChannel("SetChannelFeatured", id, func(c *domain.Channel) {
		c.IsCategoryFeatured, c.CategoryFeaturedExpiresAt = true, &until
	})
}

func (v *view) ClearExpiredPopular(ctx context.Context, now time.Time) (int64, error) {
	unlock, err := v.enter("ClearExpiredPopular")
	defer unlock()
	if err != nil {
		return 0, err
	}
	var n int64
	for id, c := range v.d.channels {
		if c.IsPopular && c.PopularExpiresAt != nil && !c.PopularExpiresAt.After(now) {
			c.IsPopular = false
			v.d.channels[id] = c
			n++
		}
	}
	return n, nil
}

func (v *view) ClearExpiredFeatured(ctx context.Context, now time.Time) (int64, error) {
	unlock, err := v.enter("ClearExpiredFeatured")
	defer unlock()
	if err != nil {
		return 0, err
	}
	var n int64
	for id, c := range v.d.channels {
		if c.IsCategoryFeatured && c.CategoryFeaturedExpiresAt != nil && !c.CategoryFeaturedExpiresAt.After(now) {
			c.IsCategoryFeatured = false
			v.d.channels[id] = c
			n++
		}
	}
	return n, nil
}

func (v *view) CreatePlan(ctx context.Context, arg domain.Plan) (domain.Plan, error) {
	unlock, err := v.enter("CreatePlan")
	defer unlock()
	if err != nil {
		return domain.Plan{}, err
	}
	arg.ID = v.d.nextID()
	arg.IsActive = true
	arg.CreatedAt = time.Now()
	v.d.plans[arg.ID] = arg
	return arg, nil
}

func (v *view) GetPlan(ctx context.Context, id int64) (domain.Plan, error) {
	unlock, err := v.enter("GetPlan")
	defer unlock()
	if err != nil {
		return domain.Plan{}, err
	}
	p, ok := v.d.plans[id]
	if !ok {
		return domain.Plan{}, notFound("plan", id)
	}
	return p, nil
}

func (v *view) ListChannelPlans(ctx context.Context, channelID int64, activeOnly bool) ([]domain.Plan, error) {
	unlock, err := v.enter("ListChannelPlans")
	defer unlock()
	if err != nil {
		return nil, err
	}
	var out []domain.Plan
	for _, p := range sortedValues(v.d.plans) {
		if p.ChannelID == channelID && (p.IsActive || !activeOnly) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (v *view) updatePlan(method string, id int64, fn func(*domain.Plan)) error {
	unlock, err := v.enter(method)
	defer unlock()
	if err != nil {
		return err
	}
	p, ok := v.d.plans[id]
	if !ok {
		return notFound("plan", id)
	}
	fn(&p)
	v.d.plans[id] = p
	return nil
}

func (v *view) UpdatePlanPrice(ctx context.Context, id int64, price int64) error {
	return v.updatePlan("UpdatePlanPrice", id, func(p *domain.Plan) { p.Price = price })
}

func (v *view) SetPlanActive(ctx context.Context, id int64, active bool) error {
	return v.updatePlan("SetPlanActive", id, func(p *domain.Plan) { p.IsActive = active })
}
