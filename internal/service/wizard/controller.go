package wizard

// Model is the command surface of a wizard model.
type Model interface {
	Start()
	PickFlight(flightID string) bool
	PickSeat(label string) bool
	Confirm() bool
	Finish()
	Back()
}

// Controller forwards presentation commands to a Model without adding
// behaviour of its own.
type Controller struct {
	model Model
}

func NewController(m Model) *Controller {
	return &Controller{model: m}
}

func (c *Controller) Start() { c.model.Start() }

func (c *Controller) PickFlight(flightID string) bool { return c.model.PickFlight(flightID) }

func (c *Controller) PickSeat(label string) bool { return c.model.PickSeat(label) }

func (c *Controller) Confirm() bool { return c.model.Confirm() }

func (c *Controller) Finish() { c.model.Finish() }

func (c *Controller) Back() { c.model.Back() }

var _ Model = (*Session)(nil)
