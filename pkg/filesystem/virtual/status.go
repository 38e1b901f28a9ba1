package virtual

// Status response of operations applied against the inode table and
// the file contents it refers to.
type Status int

const (
	// StatusOK indicates that the operation succeeded.
	StatusOK Status = iota
	// StatusErrExist indicates that a file system object of the
	// specified target name already exists.
	StatusErrExist
	// StatusErrFBig indicates that the operation would cause a file
	// to grow beyond the maximum supported size.
	StatusErrFBig
	// StatusErrIO indicates that the operation failed due to an I/O
	// error, such as a failure to contact the remote source.
	StatusErrIO
	// StatusErrIsDir indicates that a request is made against a
	// directory when the current operation does not allow a
	// directory as a target.
	StatusErrIsDir
	// StatusErrNoEnt indicates that the operation failed due to a
	// file not existing.
	StatusErrNoEnt
	// StatusErrNotDir indicates that a request is made against a
	// regular file when the current operation does not allow a
	// regular file as a target.
	StatusErrNotDir
	// StatusErrNotEmpty indicates that attempt was made to remove a
	// directory that was not empty.
	StatusErrNotEmpty
	// StatusErrNotSupported indicates that the operation requested
	// an object kind that the inode table cannot represent.
	StatusErrNotSupported
	// StatusErrPerm indicates that the operation was not allowed,
	// such as attempting to modify the root directory.
	StatusErrPerm
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusErrExist:
		return "EEXIST"
	case StatusErrFBig:
		return "EFBIG"
	case StatusErrIO:
		return "EIO"
	case StatusErrIsDir:
		return "EISDIR"
	case StatusErrNoEnt:
		return "ENOENT"
	case StatusErrNotDir:
		return "ENOTDIR"
	case StatusErrNotEmpty:
		return "ENOTEMPTY"
	case StatusErrNotSupported:
		return "EOPNOTSUPP"
	case StatusErrPerm:
		return "EPERM"
	default:
		return "UNKNOWN"
	}
}
