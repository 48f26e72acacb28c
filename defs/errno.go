package defs

type Err_t int

const (
	EPERM     Err_t = 1
	ESRCH     Err_t = 3
	EINTR     Err_t = 4
	EBADF     Err_t = 9
	ECHILD    Err_t = 10
	EAGAIN    Err_t = 11
	ENOMEM    Err_t = 12
	EFAULT    Err_t = 14
	EBUSY     Err_t = 16
	EINVAL    Err_t = 22
	EMFILE    Err_t = 24
	EDEADLK   Err_t = 35
	ENOSYS    Err_t = 38
	ETIMEDOUT Err_t = 110
)
