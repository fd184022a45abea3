package api

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/banshee-data/artos/internal/background"
	"github.com/banshee-data/artos/internal/detect"
	"github.com/banshee-data/artos/internal/eval"
	"github.com/banshee-data/artos/internal/features"
	"github.com/banshee-data/artos/internal/imgsrc"
	"github.com/banshee-data/artos/internal/learn"
	"github.com/banshee-data/artos/internal/progress"
	"github.com/banshee-data/artos/internal/repository"
	"github.com/banshee-data/artos/internal/sample"
)

// Status is the result code of a toolkit operation. Zero means success and
// every failure is negative.
type Status int

const (
	OK                Status = 0
	InvalidHandle     Status = -1
	DirectoryNotFound Status = -2
	FileNotFound      Status = -3
	FileAccessDenied  Status = -4
	Aborted           Status = -5
	IndexOutOfBounds  Status = -6
	InvalidImgData    Status = -7
	BufferTooSmall    Status = -8
	InternalError     Status = -999

	DetectInvalidImgData       Status = -101
	DetectInvalidModelFile     Status = -102
	DetectInvalidModelListFile Status = -103
	DetectNoModels             Status = -104
	DetectInvalidImage         Status = -105
	DetectNoImages             Status = -106
	DetectNoResults            Status = -107
	DetectInvalidAnnotations   Status = -108
	DetectTooManyModels        Status = -109
	DetectInvalidFeatures      Status = -110
	DetectMixedFeatures        Status = -111

	LearnFailed                   Status = -201
	LearnInvalidBgFile            Status = -202
	LearnInvalidImgData           Status = -203
	LearnNoSamples                Status = -204
	LearnModelNotLearned          Status = -205
	LearnFeatureExtractorNotReady Status = -206

	RepoInvalidRepository Status = -301
	RepoSynsetNotFound    Status = -302
	RepoExtractionFailed  Status = -303

	SettingsUnknownFeatureExtractor Status = -401
	SettingsUnknownParameter        Status = -402
	SettingsInvalidParameterValue   Status = -403
)

var statusNames = map[Status]string{
	OK:                "OK",
	InvalidHandle:     "INVALID_HANDLE",
	DirectoryNotFound: "DIRECTORY_NOT_FOUND",
	FileNotFound:      "FILE_NOT_FOUND",
	FileAccessDenied:  "FILE_ACCESS_DENIED",
	Aborted:           "ABORTED",
	IndexOutOfBounds:  "INDEX_OUT_OF_BOUNDS",
	InvalidImgData:    "INVALID_IMG_DATA",
	BufferTooSmall:    "BUFFER_TOO_SMALL",
	InternalError:     "INTERNAL_ERROR",

	DetectInvalidImgData:       "DETECT_INVALID_IMG_DATA",
	DetectInvalidModelFile:     "DETECT_INVALID_MODEL_FILE",
	DetectInvalidModelListFile: "DETECT_INVALID_MODEL_LIST_FILE",
	DetectNoModels:             "DETECT_NO_MODELS",
	DetectInvalidImage:         "DETECT_INVALID_IMAGE",
	DetectNoImages:             "DETECT_NO_IMAGES",
	DetectNoResults:            "DETECT_NO_RESULTS",
	DetectInvalidAnnotations:   "DETECT_INVALID_ANNOTATIONS",
	DetectTooManyModels:        "DETECT_TOO_MANY_MODELS",
	DetectInvalidFeatures:      "DETECT_INVALID_FEATURES",
	DetectMixedFeatures:        "DETECT_MIXED_FEATURES",

	LearnFailed:                   "LEARN_FAILED",
	LearnInvalidBgFile:            "LEARN_INVALID_BG_FILE",
	LearnInvalidImgData:           "LEARN_INVALID_IMG_DATA",
	LearnNoSamples:                "LEARN_NO_SAMPLES",
	LearnModelNotLearned:          "LEARN_MODEL_NOT_LEARNED",
	LearnFeatureExtractorNotReady: "LEARN_FEATURE_EXTRACTOR_NOT_READY",

	RepoInvalidRepository: "IMGREPO_INVALID_REPOSITORY",
	RepoSynsetNotFound:    "IMGREPO_SYNSET_NOT_FOUND",
	RepoExtractionFailed:  "IMGREPO_EXTRACTION_FAILED",

	SettingsUnknownFeatureExtractor: "SETTINGS_UNKNOWN_FEATURE_EXTRACTOR",
	SettingsUnknownParameter:        "SETTINGS_UNKNOWN_PARAMETER",
	SettingsInvalidParameterValue:   "SETTINGS_INVALID_PARAMETER_VALUE",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// Err returns nil for OK and a StatusError otherwise.
func (s Status) Err() error {
	if s == OK {
		return nil
	}
	return &StatusError{Status: s}
}

// StatusError carries a failure status, e.g. across the HTTP layer.
type StatusError struct {
	Status Status
}

func (e *StatusError) Error() string { return e.Status.String() }

// ThresholdMode selects how a one-shot learning run calibrates thresholds.
type ThresholdMode int

const (
	ThresholdNone ThresholdMode = iota
	ThresholdOverlapping
	ThresholdLOOCV
)

// ParamType is the wire value of an extractor parameter type.
type ParamType int32

const (
	ParamInt ParamType = iota
	ParamScalar
	ParamString
)

// scope decides which family of codes generic failures map to.
type scope int

const (
	scopeGeneric scope = iota
	scopeDetect
	scopeLearn
	scopeRepo
	scopeSettings
)

// statusFromError maps an error returned by the internal packages to a
// status code. Specific sentinels are checked before generic ones.
func statusFromError(err error, sc scope) Status {
	switch {
	case err == nil:
		return OK
	case errors.Is(err, progress.ErrAborted):
		return Aborted

	case errors.Is(err, detect.ErrNoModels):
		return DetectNoModels
	case errors.Is(err, detect.ErrTooManyModels):
		return DetectTooManyModels
	case errors.Is(err, detect.ErrInvalidFeatures):
		return DetectInvalidFeatures
	case errors.Is(err, detect.ErrMixedFeatures):
		return DetectMixedFeatures
	case errors.Is(err, detect.ErrInvalidModelList):
		return DetectInvalidModelListFile
	case errors.Is(err, detect.ErrInvalidModelFile), errors.Is(err, detect.ErrInvalidModel):
		return DetectInvalidModelFile
	case errors.Is(err, eval.ErrNoImages):
		return DetectNoImages
	case errors.Is(err, eval.ErrNoResults):
		return DetectNoResults
	case errors.Is(err, eval.ErrInvalidAnnotations):
		return DetectInvalidAnnotations
	case errors.Is(err, eval.ErrIndexOutOfRange):
		return IndexOutOfBounds

	case errors.Is(err, learn.ErrNoSamples):
		return LearnNoSamples
	case errors.Is(err, learn.ErrModelNotLearned):
		return LearnModelNotLearned
	case errors.Is(err, learn.ErrEmptyBackground), errors.Is(err, background.ErrInvalidFile):
		return LearnInvalidBgFile
	case errors.Is(err, features.ErrNotReady):
		return LearnFeatureExtractorNotReady

	case errors.Is(err, learn.ErrNoRepository), errors.Is(err, repository.ErrInvalidRepository):
		return RepoInvalidRepository
	case errors.Is(err, repository.ErrSynsetNotFound):
		return RepoSynsetNotFound
	case errors.Is(err, repository.ErrOutputDirNotFound):
		return DirectoryNotFound

	case errors.Is(err, features.ErrUnknownExtractor):
		return SettingsUnknownFeatureExtractor
	case errors.Is(err, features.ErrUnknownParameter):
		return SettingsUnknownParameter
	case errors.Is(err, features.ErrInvalidParameterValue):
		return SettingsInvalidParameterValue

	case errors.Is(err, sample.ErrInvalidImage), errors.Is(err, sample.ErrInvalidBoxes),
		errors.Is(err, detect.ErrInvalidImage), errors.Is(err, imgsrc.ErrEmptyImage):
		switch sc {
		case scopeDetect:
			return DetectInvalidImgData
		case scopeLearn:
			return LearnInvalidImgData
		}
		return InvalidImgData
	case errors.Is(err, fs.ErrNotExist):
		return FileNotFound
	case errors.Is(err, fs.ErrPermission):
		return FileAccessDenied
	}
	if sc == scopeLearn {
		return LearnFailed
	}
	return InternalError
}
