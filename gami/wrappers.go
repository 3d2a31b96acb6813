package gami

import "context"

// GetVar reads an Asterisk channel or global variable. Asterisk exposes
// several hundred near-identical actions; this is kept here only as an
// illustrative binding alongside the generic Do surface every other action
// uses.
func (s *Session) GetVar(ctx context.Context, channel, variable string) (string, error) {
	v, err := s.Do(ctx, "GetVar", []Header{
		{Name: "Channel", Value: channel},
		{Name: "Variable", Value: variable},
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Status requests the list of active channels.
func (s *Session) Status(ctx context.Context, channel string) ([]map[string]string, error) {
	v, err := s.Do(ctx, "Status", []Header{{Name: "Channel", Value: channel}})
	if err != nil {
		return nil, err
	}
	return v.([]map[string]string), nil
}

// QueueStatus requests the nested queue/member status report.
func (s *Session) QueueStatus(ctx context.Context, queue string) ([]QueueStatusEntry, error) {
	v, err := s.Do(ctx, "QueueStatus", []Header{{Name: "Queue", Value: queue}})
	if err != nil {
		return nil, err
	}
	return v.([]QueueStatusEntry), nil
}

// Command executes a free-form Asterisk CLI command and returns its raw
// output text.
func (s *Session) Command(ctx context.Context, command string) (string, error) {
	v, err := s.Do(ctx, "Command", []Header{{Name: "Command", Value: command}})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}
