package legacy

var (
	NewPool = newPool
	Submit  = submit
)
