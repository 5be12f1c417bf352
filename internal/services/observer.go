package services

// Observer receives business events for metrics.
type Observer interface {
	PurchaseCompleted(units int)
	PurchaseRejected(reason string)
	Session(event, outcome string)
}

type nopObserver struct{}

func (nopObserver) PurchaseCompleted(int)   {}
func (nopObserver) PurchaseRejected(string) {}
func (nopObserver) Session(string, string)  {}
