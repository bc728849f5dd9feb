package ipc

import (
	"fmt"
	"maps"
	"slices"

	"github.com/pithecene-io/testpipe/types"
)

// Field tags per record, per CONTRACT_PIPE.md.
const (
	optionsModulePath = 1
	optionsList       = 2

	optionName        = 1
	optionDescription = 2
	optionIsHidden    = 3
	optionIsBuiltIn   = 4

	moduleModulePath      = 1
	moduleProjectPath     = 2
	moduleTargetFramework = 3
	moduleIsTestingApp    = 4

	discoveredExecutionID = 1
	discoveredInstanceID  = 2
	discoveredList        = 3

	testUID         = 1
	testDisplayName = 2
	testFilePath    = 3
	testLineNumber  = 4
	testNamespace   = 5
	testTypeName    = 6
	testMethodName  = 7
	testTraits      = 8

	traitKey   = 1
	traitValue = 2

	resultsExecutionID = 1
	resultsInstanceID  = 2
	resultsSuccessful  = 3
	resultsFailed      = 4

	successUID         = 1
	successDisplayName = 2
	successState       = 3
	successDuration    = 4
	successReason      = 5
	successStdout      = 6
	successStderr      = 7
	successSessionUID  = 8

	failedUID         = 1
	failedDisplayName = 2
	failedState       = 3
	failedDuration    = 4
	failedReason      = 5
	failedExceptions  = 6
	failedStdout      = 7
	failedStderr      = 8
	failedSessionUID  = 9

	exceptionMessage    = 1
	exceptionType       = 2
	exceptionStackTrace = 3

	artifactsExecutionID = 1
	artifactsInstanceID  = 2
	artifactsList        = 3

	artifactFullPath        = 1
	artifactDisplayName     = 2
	artifactDescription     = 3
	artifactTestUID         = 4
	artifactTestDisplayName = 5
	artifactSessionUID      = 6

	sessionType        = 1
	sessionUID         = 2
	sessionExecutionID = 3
)

// Serializer encodes and decodes one registered message kind.
type Serializer interface {
	ID() uint32
	Encode(m Message) ([]byte, error)
	Decode(payload []byte) (Message, error)
}

type recordSerializer[M Message] struct {
	id  uint32
	enc func(m M, w *RecordWriter)
	dec func(fields []Field) (M, error)
}

func (s recordSerializer[M]) ID() uint32 { return s.id }

func (s recordSerializer[M]) Encode(m Message) ([]byte, error) {
	typed, ok := m.(M)
	if !ok {
		return nil, fmt.Errorf("serializer %d cannot encode %T", s.id, m)
	}
	w := NewRecordWriter()
	s.enc(typed, w)
	return w.Bytes(), nil
}

func (s recordSerializer[M]) Decode(payload []byte) (Message, error) {
	fields, err := readRecordExact(payload)
	if err != nil {
		return nil, err
	}
	m, err := s.dec(fields)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// DefaultSerializers returns a serializer for every known message kind.
func DefaultSerializers() []Serializer {
	return []Serializer{
		recordSerializer[*VoidResponse]{
			id:  VoidResponseID,
			enc: func(*VoidResponse, *RecordWriter) {},
			dec: func([]Field) (*VoidResponse, error) { return &VoidResponse{}, nil },
		},
		recordSerializer[*HandshakeMessage]{id: HandshakeMessageID, enc: encodeHandshake, dec: decodeHandshake},
		recordSerializer[*CommandLineOptionMessages]{id: CommandLineOptionMessagesID, enc: encodeOptions, dec: decodeOptions},
		recordSerializer[*ModuleMessage]{id: ModuleMessageID, enc: encodeModule, dec: decodeModule},
		recordSerializer[*DiscoveredTestMessages]{id: DiscoveredTestMessagesID, enc: encodeDiscovered, dec: decodeDiscovered},
		recordSerializer[*TestResultMessages]{id: TestResultMessagesID, enc: encodeResults, dec: decodeResults},
		recordSerializer[*FileArtifactMessages]{id: FileArtifactMessagesID, enc: encodeArtifacts, dec: decodeArtifacts},
		recordSerializer[*TestSessionEvent]{id: TestSessionEventID, enc: encodeSession, dec: decodeSession},
	}
}

// Handshake: each field tag is a property id, each value a string.

func encodeHandshake(m *HandshakeMessage, w *RecordWriter) {
	if m.Handshake == nil {
		return
	}
	for _, p := range slices.Sorted(maps.Keys(m.Handshake.Properties)) {
		w.String(uint16(p), m.Handshake.Properties[p])
	}
}

func decodeHandshake(fields []Field) (*HandshakeMessage, error) {
	hs := types.NewHandshake()
	for _, f := range fields {
		if f.Tag > 0xFF {
			continue
		}
		hs.Set(types.HandshakeProperty(f.Tag), fieldString(f))
	}
	return &HandshakeMessage{Handshake: hs}, nil
}

func encodeOptions(m *CommandLineOptionMessages, w *RecordWriter) {
	w.String(optionsModulePath, m.ModulePath)
	w.List(optionsList, len(m.Options), func(i int, rw *RecordWriter) {
		o := m.Options[i]
		rw.String(optionName, o.Name)
		rw.String(optionDescription, o.Description)
		rw.OptBool(optionIsHidden, o.IsHidden)
		rw.OptBool(optionIsBuiltIn, o.IsBuiltIn)
	})
}

func decodeOptions(fields []Field) (*CommandLineOptionMessages, error) {
	m := &CommandLineOptionMessages{}
	for _, f := range fields {
		switch f.Tag {
		case optionsModulePath:
			m.ModulePath = fieldString(f)
		case optionsList:
			items, err := ReadList(f.Value)
			if err != nil {
				return nil, err
			}
			for _, item := range items {
				var o types.CommandLineOption
				for _, of := range item {
					switch of.Tag {
					case optionName:
						o.Name = fieldString(of)
					case optionDescription:
						o.Description = fieldString(of)
					case optionIsHidden, optionIsBuiltIn:
						b, err := fieldBool(of)
						if err != nil {
							return nil, err
						}
						if of.Tag == optionIsHidden {
							o.IsHidden = &b
						} else {
							o.IsBuiltIn = &b
						}
					}
				}
				m.Options = append(m.Options, o)
			}
		}
	}
	return m, nil
}

func encodeModule(m *ModuleMessage, w *RecordWriter) {
	w.String(moduleModulePath, m.ModulePath)
	w.String(moduleProjectPath, m.ProjectPath)
	w.String(moduleTargetFramework, m.TargetFramework)
	w.String(moduleIsTestingApp, m.IsTestingPlatformApplication)
}

func decodeModule(fields []Field) (*ModuleMessage, error) {
	m := &ModuleMessage{}
	for _, f := range fields {
		switch f.Tag {
		case moduleModulePath:
			m.ModulePath = fieldString(f)
		case moduleProjectPath:
			m.ProjectPath = fieldString(f)
		case moduleTargetFramework:
			m.TargetFramework = fieldString(f)
		case moduleIsTestingApp:
			m.IsTestingPlatformApplication = fieldString(f)
		}
	}
	return m, nil
}

func encodeDiscovered(m *DiscoveredTestMessages, w *RecordWriter) {
	w.String(discoveredExecutionID, m.ExecutionID)
	w.String(discoveredInstanceID, m.InstanceID)
	w.List(discoveredList, len(m.Tests), func(i int, rw *RecordWriter) {
		t := m.Tests[i]
		rw.String(testUID, t.UID)
		rw.String(testDisplayName, t.DisplayName)
		rw.OptString(testFilePath, t.FilePath)
		rw.OptInt32(testLineNumber, t.LineNumber)
		rw.OptString(testNamespace, t.Namespace)
		rw.OptString(testTypeName, t.TypeName)
		rw.OptString(testMethodName, t.MethodName)
		rw.List(testTraits, len(t.Traits), func(j int, tw *RecordWriter) {
			tw.String(traitKey, t.Traits[j].Key)
			tw.OptString(traitValue, t.Traits[j].Value)
		})
	})
}

func decodeDiscovered(fields []Field) (*DiscoveredTestMessages, error) {
	m := &DiscoveredTestMessages{}
	for _, f := range fields {
		switch f.Tag {
		case discoveredExecutionID:
			m.ExecutionID = fieldString(f)
		case discoveredInstanceID:
			m.InstanceID = fieldString(f)
		case discoveredList:
			items, err := ReadList(f.Value)
			if err != nil {
				return nil, err
			}
			for _, item := range items {
				t, err := decodeDiscoveredTest(item)
				if err != nil {
					return nil, err
				}
				m.Tests = append(m.Tests, t)
			}
		}
	}
	return m, nil
}

func decodeDiscoveredTest(fields []Field) (types.DiscoveredTest, error) {
	var t types.DiscoveredTest
	for _, f := range fields {
		switch f.Tag {
		case testUID:
			t.UID = fieldString(f)
		case testDisplayName:
			t.DisplayName = fieldString(f)
		case testFilePath:
			t.FilePath = fieldStringPtr(f)
		case testLineNumber:
			n, err := fieldInt32(f)
			if err != nil {
				return t, err
			}
			t.LineNumber = &n
		case testNamespace:
			t.Namespace = fieldStringPtr(f)
		case testTypeName:
			t.TypeName = fieldStringPtr(f)
		case testMethodName:
			t.MethodName = fieldStringPtr(f)
		case testTraits:
			items, err := ReadList(f.Value)
			if err != nil {
				return t, err
			}
			for _, item := range items {
				var tr types.Trait
				for _, tf := range item {
					switch tf.Tag {
					case traitKey:
						tr.Key = fieldString(tf)
					case traitValue:
						tr.Value = fieldStringPtr(tf)
					}
				}
				t.Traits = append(t.Traits, tr)
			}
		}
	}
	return t, nil
}

func encodeResults(m *TestResultMessages, w *RecordWriter) {
	w.String(resultsExecutionID, m.ExecutionID)
	w.String(resultsInstanceID, m.InstanceID)
	w.List(resultsSuccessful, len(m.Successful), func(i int, rw *RecordWriter) {
		r := m.Successful[i]
		rw.String(successUID, r.UID)
		rw.String(successDisplayName, r.DisplayName)
		rw.Byte(successState, r.State)
		rw.OptInt64(successDuration, r.Duration)
		rw.OptString(successReason, r.Reason)
		rw.OptString(successStdout, r.Stdout)
		rw.OptString(successStderr, r.Stderr)
		rw.OptString(successSessionUID, r.SessionUID)
	})
	w.List(resultsFailed, len(m.Failed), func(i int, rw *RecordWriter) {
		r := m.Failed[i]
		rw.String(failedUID, r.UID)
		rw.String(failedDisplayName, r.DisplayName)
		rw.Byte(failedState, r.State)
		rw.OptInt64(failedDuration, r.Duration)
		rw.OptString(failedReason, r.Reason)
		rw.List(failedExceptions, len(r.Exceptions), func(j int, ew *RecordWriter) {
			e := r.Exceptions[j]
			ew.OptString(exceptionMessage, e.Message)
			ew.OptString(exceptionType, e.Type)
			ew.OptString(exceptionStackTrace, e.StackTrace)
		})
		rw.OptString(failedStdout, r.Stdout)
		rw.OptString(failedStderr, r.Stderr)
		rw.OptString(failedSessionUID, r.SessionUID)
	})
}

func decodeResults(fields []Field) (*TestResultMessages, error) {
	m := &TestResultMessages{}
	for _, f := range fields {
		switch f.Tag {
		case resultsExecutionID:
			m.ExecutionID = fieldString(f)
		case resultsInstanceID:
			m.InstanceID = fieldString(f)
		case resultsSuccessful:
			items, err := ReadList(f.Value)
			if err != nil {
				return nil, err
			}
			for _, item := range items {
				r, err := decodeSuccessful(item)
				if err != nil {
					return nil, err
				}
				m.Successful = append(m.Successful, r)
			}
		case resultsFailed:
			items, err := ReadList(f.Value)
			if err != nil {
				return nil, err
			}
			for _, item := range items {
				r, err := decodeFailed(item)
				if err != nil {
					return nil, err
				}
				m.Failed = append(m.Failed, r)
			}
		}
	}
	return m, nil
}

func decodeSuccessful(fields []Field) (SuccessfulTestResult, error) {
	var r SuccessfulTestResult
	for _, f := range fields {
		var err error
		switch f.Tag {
		case successUID:
			r.UID = fieldString(f)
		case successDisplayName:
			r.DisplayName = fieldString(f)
		case successState:
			r.State, err = fieldByte(f)
		case successDuration:
			var ticks int64
			ticks, err = fieldInt64(f)
			r.Duration = &ticks
		case successReason:
			r.Reason = fieldStringPtr(f)
		case successStdout:
			r.Stdout = fieldStringPtr(f)
		case successStderr:
			r.Stderr = fieldStringPtr(f)
		case successSessionUID:
			r.SessionUID = fieldStringPtr(f)
		}
		if err != nil {
			return r, err
		}
	}
	return r, nil
}

func decodeFailed(fields []Field) (FailedTestResult, error) {
	var r FailedTestResult
	for _, f := range fields {
		var err error
		switch f.Tag {
		case failedUID:
			r.UID = fieldString(f)
		case failedDisplayName:
			r.DisplayName = fieldString(f)
		case failedState:
			r.State, err = fieldByte(f)
		case failedDuration:
			var ticks int64
			ticks, err = fieldInt64(f)
			r.Duration = &ticks
		case failedReason:
			r.Reason = fieldStringPtr(f)
		case failedExceptions:
			var items [][]Field
			items, err = ReadList(f.Value)
			for _, item := range items {
				var e ExceptionMessage
				for _, ef := range item {
					switch ef.Tag {
					case exceptionMessage:
						e.Message = fieldStringPtr(ef)
					case exceptionType:
						e.Type = fieldStringPtr(ef)
					case exceptionStackTrace:
						e.StackTrace = fieldStringPtr(ef)
					}
				}
				r.Exceptions = append(r.Exceptions, e)
			}
		case failedStdout:
			r.Stdout = fieldStringPtr(f)
		case failedStderr:
			r.Stderr = fieldStringPtr(f)
		case failedSessionUID:
			r.SessionUID = fieldStringPtr(f)
		}
		if err != nil {
			return r, err
		}
	}
	return r, nil
}

func encodeArtifacts(m *FileArtifactMessages, w *RecordWriter) {
	w.String(artifactsExecutionID, m.ExecutionID)
	w.String(artifactsInstanceID, m.InstanceID)
	w.List(artifactsList, len(m.Artifacts), func(i int, rw *RecordWriter) {
		a := m.Artifacts[i]
		rw.OptString(artifactFullPath, a.FullPath)
		rw.OptString(artifactDisplayName, a.DisplayName)
		rw.OptString(artifactDescription, a.Description)
		rw.OptString(artifactTestUID, a.TestUID)
		rw.OptString(artifactTestDisplayName, a.TestDisplayName)
		rw.OptString(artifactSessionUID, a.SessionUID)
	})
}

func decodeArtifacts(fields []Field) (*FileArtifactMessages, error) {
	m := &FileArtifactMessages{}
	for _, f := range fields {
		switch f.Tag {
		case artifactsExecutionID:
			m.ExecutionID = fieldString(f)
		case artifactsInstanceID:
			m.InstanceID = fieldString(f)
		case artifactsList:
			items, err := ReadList(f.Value)
			if err != nil {
				return nil, err
			}
			for _, item := range items {
				var a types.FileArtifact
				for _, af := range item {
					switch af.Tag {
					case artifactFullPath:
						a.FullPath = fieldStringPtr(af)
					case artifactDisplayName:
						a.DisplayName = fieldStringPtr(af)
					case artifactDescription:
						a.Description = fieldStringPtr(af)
					case artifactTestUID:
						a.TestUID = fieldStringPtr(af)
					case artifactTestDisplayName:
						a.TestDisplayName = fieldStringPtr(af)
					case artifactSessionUID:
						a.SessionUID = fieldStringPtr(af)
					}
				}
				m.Artifacts = append(m.Artifacts, a)
			}
		}
	}
	return m, nil
}

func encodeSession(m *TestSessionEvent, w *RecordWriter) {
	w.Byte(sessionType, byte(m.Event.Type))
	w.OptString(sessionUID, m.Event.SessionUID)
	w.OptString(sessionExecutionID, m.Event.ExecutionID)
}

func decodeSession(fields []Field) (*TestSessionEvent, error) {
	m := &TestSessionEvent{}
	for _, f := range fields {
		switch f.Tag {
		case sessionType:
			b, err := fieldByte(f)
			if err != nil {
				return nil, err
			}
			m.Event.Type = types.SessionEventType(b)
		case sessionUID:
			m.Event.SessionUID = fieldStringPtr(f)
		case sessionExecutionID:
			m.Event.ExecutionID = fieldStringPtr(f)
		}
	}
	return m, nil
}
